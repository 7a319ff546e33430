// Package httpapi exposes the registry over HTTP.
//
//	POST   /register                  register or replace an instance
//	PUT    /heartbeat/{service}/{id}  renew a lease (404 when unknown or evicted)
//	DELETE /deregister/{service}/{id} remove an instance (always 200)
//	PUT    /status/{service}/{id}     set {"status": "OUT_OF_SERVICE"} and friends
//	GET    /instances/{service}       UP instances as a JSON array
//	GET    /services                  all instances of all services
//
// Errors use the errors.AppError envelope.
package httpapi
