// Package bootstrap runs the gateway process: it validates the root config,
// initializes logging, starts the registered components in order, prints a
// startup summary, waits for SIGINT/SIGTERM and stops everything in reverse
// order within a graceful timeout.
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    return err
//	}
//	_ = app.RegisterComponent(server.NewComponent(srv))
//	return app.Run(ctx)
package bootstrap
