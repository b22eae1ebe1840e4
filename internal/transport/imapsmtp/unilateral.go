package imapsmtp

import "github.com/emersion/go-imap/v2/imapclient"

// unilateralHandler builds an UnilateralDataHandler that signals notify on
// any EXISTS/EXPUNGE push from the server, the two events spec §4.2 step 3
// names as triggers for mail:new.
func unilateralHandler(notify chan<- struct{}) *imapclient.UnilateralDataHandler {
	push := func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	}
	return &imapclient.UnilateralDataHandler{
		Expunge: func(seqNum uint32) {
			push()
		},
		Mailbox: func(data *imapclient.UnilateralDataMailbox) {
			if data.NumMessages != nil {
				push()
			}
		},
	}
}
