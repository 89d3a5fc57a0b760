// Package app provides application initialization and lifecycle
// management. It is the composition root: every long-lived component is
// constructed here and wired together through explicit dependencies.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//	1. Load configuration from defaults, file and environment
//	2. Initialize logging and OpenTelemetry
//	3. Open the race store and load the manifest
//	4. Start the WebSocket hub and construct the services
//	5. Set up HTTP handlers and middleware
//	6. Configure the HTTP server
//
// # Usage
//
// The main entry point is typically:
//
//	application, err := app.NewApplication()
//	if err != nil {
//	    // report and exit
//	}
//	if err := application.Run(); err != nil {
//	    // report and exit
//	}
//
// # Graceful Shutdown
//
// Run handles SIGINT and SIGTERM to ensure:
//
//	- Active requests complete within the shutdown timeout
//	- WebSocket clients receive a disconnect notice
//	- Telemetry providers flush before exit
//
// # Error Handling
//
// All initialization errors are returned to the caller. The package
// never calls os.Exit directly, leaving exit codes to main.
package app
