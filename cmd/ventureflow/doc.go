// Command ventureflow runs the startup validation pipeline service.
//
// Usage:
//
//	ventureflow serve                       start the service
//	ventureflow serve --config config.yaml  with an explicit config file
//	ventureflow migrate up                  apply pending database migrations
//	ventureflow version                     print version information
//	ventureflow health                      probe a running instance
package main
