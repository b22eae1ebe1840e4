package main

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"mailengine/internal/account"
	"mailengine/internal/apperr"
	"mailengine/internal/metadata"
	"mailengine/internal/transport"
	"mailengine/internal/transport/imapsmtp"
	"mailengine/internal/transport/nativeapi"
)

// transportCache resolves and memoizes one transport.Account per stored
// account, so the daemon dials IMAP/opens a Gmail service at most once per
// account instead of once per command, adapted from the teacher's
// StateManager's pooled IMAP clients (internal/server/state.go).
type transportCache struct {
	meta *metadata.DB
	oa   *account.OAuth

	mu      sync.Mutex
	clients map[string]transport.Account
}

func newTransportCache(meta *metadata.DB, oa *account.OAuth) *transportCache {
	return &transportCache{meta: meta, oa: oa, clients: make(map[string]transport.Account)}
}

// resolve implements pipeline.AccountTransport.
func (c *transportCache) resolve(accountID string) (transport.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[accountID]; ok {
		return client, nil
	}

	acc, err := c.meta.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	client, err := c.dial(acc)
	if err != nil {
		return nil, err
	}
	c.clients[accountID] = client
	return client, nil
}

func (c *transportCache) dial(acc metadata.Account) (transport.Account, error) {
	switch acc.Provider {
	case "native":
		return c.dialNative(acc)
	default:
		return c.dialIMAP(acc)
	}
}

func (c *transportCache) dialNative(acc metadata.Account) (transport.Account, error) {
	if c.oa == nil {
		return nil, fmt.Errorf("%w: no OAuth provider configured for native accounts", apperr.ErrAuthRequired)
	}

	ctx := context.Background()
	token, err := c.oa.GetFreshAccessToken(ctx, acc.ID)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return nativeapi.New(ctx, httpClient, acc.Address)
}

func (c *transportCache) dialIMAP(acc metadata.Account) (transport.Account, error) {
	cfg := imapsmtp.Config{
		AccountID: acc.ID,
		IMAPHost:  acc.IMAPHost,
		IMAPPort:  acc.IMAPPort,
		SMTPHost:  acc.SMTPHost,
		SMTPPort:  acc.SMTPPort,
		Username:  acc.Address,
	}

	switch acc.AuthKind {
	case "oauth":
		if c.oa == nil {
			return nil, fmt.Errorf("%w: no OAuth provider configured", apperr.ErrAuthRequired)
		}
		token, err := c.oa.GetFreshAccessToken(context.Background(), acc.ID)
		if err != nil {
			return nil, err
		}
		cfg.XOAUTH2Token = token
	default:
		cred, err := account.Get(acc.ID, account.KindAppPassword)
		if err != nil {
			return nil, err
		}
		cfg.Password = cred.Secret
	}

	return imapsmtp.New(cfg)
}
