package main

import (
	"os"

	"clinic-api/internal/app"

	_ "clinic-api/docs" // swagger doc registration
)

// @title Clinic Booking API
// @version 1.0
// @description Backend for the clinic's appointment booking widget.
// @BasePath /
// @securityDefinitions.apikey SessionAuth
// @in header
// @name Authorization
func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
