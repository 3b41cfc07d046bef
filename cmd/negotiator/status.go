package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/loadline/negotiator/internal/app"
	"github.com/loadline/negotiator/internal/domain"
	"github.com/loadline/negotiator/internal/policy"
	"github.com/loadline/negotiator/internal/repository"
)

// StatusCmd prints the state of one negotiation straight from storage.
type StatusCmd struct {
	Full bool `long:"full" description:"Print the full summary with recent messages"`
	Args struct {
		ID string `positional-arg-name:"negotiation-id" required:"yes"`
	} `positional-args:"yes"`

	root *Options
	out  io.Writer
}

// Execute implements flags.Commander.
func (c *StatusCmd) Execute(_ []string) error {
	cfg, err := loadConfig(c.root.Config)
	if err != nil {
		return err
	}
	ctx := context.Background()
	backends, err := repository.Open(ctx, policy.New(cfg))
	if err != nil {
		return err
	}
	defer backends.Close()

	n, err := backends.Store.Get(ctx, c.Args.ID)
	if err != nil {
		return fmt.Errorf("negotiation %s: %w", c.Args.ID, err)
	}
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	if c.Full {
		_, err = fmt.Fprint(out, app.SummarizeNegotiation(n, 10))
		return err
	}
	_, err = fmt.Fprintln(out, statusLine(n))
	return err
}

// statusLine renders a negotiation on one line.
func statusLine(n *domain.Negotiation) string {
	price := n.InitialRequest.Price
	if n.FinalPrice != "" {
		price = n.FinalPrice
	} else if n.CurrentPrice != nil {
		price = domain.FormatPrice(*n.CurrentPrice)
	}
	return fmt.Sprintf("%s status=%s price=%s agent=%q replies=%d messages=%d",
		n.ID, n.Status, price, app.AgentStatusLabel(n), n.AgentReplyCount, n.MessageCount)
}
