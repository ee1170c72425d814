// ABOUTME: init.go provides the init command to create or recreate fleetbook configuration.
// ABOUTME: Generates a device ID and session secret and records backend and access settings.
package main

import (
	"flag"
	"fmt"
)

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite existing config")
	server := fs.String("server", "", "backend REST base URL")
	apiKey := fs.String("api-key", "", "backend api key")
	token := fs.String("token", "", "backend bearer token")
	viewer := fs.String("viewer-code", "", "access code for viewers")
	manager := fs.String("manager-code", "", "access code for managers")
	owner := fs.String("owner", "", "fleet owner stamped on vehicles")
	db := fs.String("db", "", "path to local SQLite mirror")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if ConfigExists() && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", ConfigPath())
	}

	cfg, err := InitConfig(Config{
		Server:      *server,
		APIKey:      *apiKey,
		Token:       *token,
		ViewerCode:  *viewer,
		ManagerCode: *manager,
		FleetOwner:  *owner,
		DB:          expandPath(*db),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Device ID: %s\n", cfg.DeviceID)
	fmt.Fprintf(stdout, "Local DB:  %s\n", cfg.DB)
	if cfg.ViewerCode == "" || cfg.ManagerCode == "" {
		fmt.Fprintf(stdout, "\nSet viewer_code and manager_code in %s before logging in.\n", ConfigPath())
		return nil
	}
	fmt.Fprintln(stdout, "\nConfiguration initialized successfully!")
	fmt.Fprintln(stdout, "Next: run 'fleetbook login <code>'.")
	return nil
}
