package main

import (
	"fmt"

	"github.com/brojonat/walletfeed/service/outbox"
	"github.com/urfave/cli/v2"
)

func keysGenerateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate an outbox key pair",
		Description: `Prints a new curve25519 key pair for the outbox channel.

Register the public key with the profile directory and set both values as
PROFILE_PUBLIC_KEY and PROFILE_PRIVATE_KEY on the server.`,
		Action: func(c *cli.Context) error {
			kp, err := outbox.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("failed to generate key pair: %w", err)
			}
			out := struct {
				PublicKey  string `json:"publicKey"`
				PrivateKey string `json:"privateKey"`
			}{kp.PublicKey(), outbox.EncodeKey(kp.Private)}

			if jsonOutput(c) {
				return output(c, out)
			}
			fmt.Printf("PROFILE_PUBLIC_KEY=%s\n", out.PublicKey)
			fmt.Printf("PROFILE_PRIVATE_KEY=%s\n", out.PrivateKey)
			return nil
		},
	}
}
