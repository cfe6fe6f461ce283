package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/2beens/pressauth/pkg"
)

// prints the bcrypt hash to put in PRESSAUTH_ADMIN_PASSWORD_HASH,
// or a fresh PRESSAUTH_TOKEN_SECRET with -gen-secret
func main() {
	password := flag.String("password", "", "admin password; read from stdin when empty")
	cost := flag.Int("cost", pkg.PasswordHashCost, "bcrypt cost")
	genSecret := flag.Bool("gen-secret", false, "print a random token secret and exit")
	flag.Parse()

	if *genSecret {
		secret, err := pkg.GenerateRandomString(48)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate secret: %s\n", err)
			os.Exit(1)
		}
		fmt.Println(secret)
		return
	}

	if *password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "read password: %s\n", err)
			os.Exit(1)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	if *password == "" {
		fmt.Fprintln(os.Stderr, "empty password")
		os.Exit(1)
	}

	hash, err := pkg.HashPasswordWithCost(*password, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash password: %s\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
