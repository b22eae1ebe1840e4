// Command mailengine is the headless local-first mail intelligence
// daemon and its control CLI. Where the teacher ships a bubbletea TUI,
// this program replaces the terminal UI with a long-running background
// process (see daemon.go) and a thin set of client commands that talk to
// it over internal/ipc, since the GUI shell named in the spec is a
// separate process that dials the same control socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailengine/internal/command"
)

var rootCmd = &cobra.Command{
	Use:   "mailengine",
	Short: "Local-first email intelligence engine",
	Long:  "mailengine indexes, enriches, and lets you search your mail entirely on this machine.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List configured accounts",
	Run: func(cmd *cobra.Command, args []string) {
		withDaemon(func(c *daemonClient) error {
			resp := c.call(command.Request{Type: command.TypeListAccounts})
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}
			if len(resp.Accounts) == 0 {
				fmt.Println("no accounts configured")
				return nil
			}
			for _, acc := range resp.Accounts {
				fmt.Printf("  %s (%s)\n", acc.Address, acc.Provider)
			}
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask a question over your indexed mail",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDaemon(func(c *daemonClient) error {
			resp := c.call(command.Request{Type: command.TypeChatQuery, Query: args[0]})
			if !resp.OK {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Println(resp.Answer)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(chatCmd)
}
