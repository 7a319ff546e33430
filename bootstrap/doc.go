// Package bootstrap orchestrates the lifecycle of meshkit binaries.
//
// An App takes a typed configuration, registers components, runs them in
// order, prints a startup summary and blocks until SIGINT/SIGTERM. Shutdown
// runs OnStop hooks first and then stops components in reverse order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = app.RegisterComponent(registry.NewComponent(cfg.Registry, app.Logger))
//	_ = app.RegisterComponent(server.NewComponent(srv))
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
