// Package http contains the chi handlers for the license API. Handlers
// decode and validate requests, call into services, and render responses;
// no license logic lives here.
package http
