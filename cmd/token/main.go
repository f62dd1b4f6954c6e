// Command token mints actor tokens for local use of the API.
//
//	LEAVE_JWT_SECRET=dev go run ./cmd/token -sub emp-1 -role employee
//	LEAVE_JWT_SECRET=dev go run ./cmd/token -sub hr-1 -role admin -ttl 1h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/generic"
)

func main() {
	_ = godotenv.Load()

	sub := flag.String("sub", "", "employee id of the actor")
	role := flag.String("role", string(generic.RoleEmployee), "employee or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("LEAVE_JWT_SECRET"), "HS256 secret (default $LEAVE_JWT_SECRET)")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "token: no secret; set LEAVE_JWT_SECRET or -secret")
		os.Exit(2)
	}

	token, err := api.IssueToken(*secret, generic.Actor{ID: *sub, Role: generic.Role(*role)}, *ttl, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
