// Package services holds the business logic between the HTTP transport and
// the license registry. Handlers stay thin: request decoding and response
// rendering live in transport, everything that touches records lives here.
package services
