// ABOUTME: fleetbook is the command-line front end of the fleet revenue ledger.
// ABOUTME: Dispatches subcommands for config, sessions, sync, CRUD, settings and reports.
package main

import (
	"fmt"
	"log"
	"os"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		return
	}
	if err := dispatch(os.Args[1], os.Args[2:]); err != nil {
		log.Fatal(err)
	}
}

func dispatch(cmd string, args []string) error {
	switch cmd {
	case "init":
		return cmdInit(args)
	case "login":
		return cmdLogin(args)
	case "logout":
		return cmdLogout(args)
	case "status":
		return cmdStatus(args)
	case "refresh":
		return cmdRefresh(args)
	case "watch":
		return cmdWatch(args)
	case "records":
		return cmdRecords(args)
	case "vehicles":
		return cmdVehicles(args)
	case "operators":
		return cmdOperators(args)
	case "notes":
		return cmdNotes(args)
	case "reception":
		return cmdReception(args)
	case "setting":
		return cmdSetting(args)
	case "report":
		return cmdReport(args)
	default:
		usage()
		return nil
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "fleetbook commands: init | login | logout | status | refresh | watch | records | vehicles | operators | notes | reception | setting | report\n")
}
