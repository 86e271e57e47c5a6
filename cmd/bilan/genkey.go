package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate an ingest API key and its bcrypt hash",
	Long: `Generates a random API key for client SDKs plus a bcrypt hash for the
server. Give the key to clients (Init.APIKey) and set either BILAN_API_KEY
(the key itself) or BILAN_API_KEY_HASH (the hash, if you prefer not to keep
the plaintext key in the server environment).`,
	Run: func(cmd *cobra.Command, args []string) {
		key := "bln_" + strings.ReplaceAll(uuid.New().String(), "-", "")

		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to hash key: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("API key:  %s\n", key)
		fmt.Printf("Hash:     %s\n", string(hash))
	},
}
