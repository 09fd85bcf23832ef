package main

// General API documentation for swaggo. Run `swag init -g cmd/segd/docs.go` to generate docs.
//
// @title           segd API
// @version         1.0
// @description     Live camera segmentation: frame ingestion, single-flight point-prompted segmentation and display state.
//
// @contact.name   segd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
