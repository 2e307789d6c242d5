/*
Package proxy implements a local REST API for controlling vehicles, so that home-automation tools
that speak HTTP can use the library without embedding it.

Clients authenticate with HTTP Basic credentials, which the proxy uses to log in to the vendor
account. Commands are POSTed to /api/1/vehicle/command/{command} with optional JSON parameters, and
state is read with GET /api/1/vehicle/{status|location|history|vin}. Query parameters of GET
requests are treated like JSON parameters of commands.
*/
package proxy
