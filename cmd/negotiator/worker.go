package main

import "context"

// WorkerCmd runs the dispatcher without the HTTP server. It wakes on the
// signal file written by serve processes.
type WorkerCmd struct {
	root *Options
}

// Execute implements flags.Commander.
func (c *WorkerCmd) Execute(_ []string) error {
	rt, err := newRuntime(context.Background(), c.root.Config)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.logger.Printf("Starting negotiator worker %s...", Version)

	ctx, cancel := signalContext(rt.logger)
	defer cancel()

	stop, err := rt.startBackground(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	stop()
	rt.logger.Println("Worker stopped")
	return nil
}
