package main

import (
	"fmt"
	"log"
	"os"

	"github.com/ogier/pflag"

	"github.com/Rudd-O/secretstream"
)

func main() {
	out := pflag.StringP("output", "o", "", "where to write the secret file (default ~/.ssb/secret)")
	stdout := pflag.Bool("stdout", false, "print the secret file instead of writing it")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: secretstream-genkeypair [flags]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	kp, err := secretstream.GenKeyPair()
	if err != nil {
		log.Fatalf("Could not generate keypair: %s", err)
	}

	if *stdout {
		data, err := secretstream.MarshalSecret(kp)
		if err != nil {
			log.Fatalf("Could not encode keypair: %s", err)
		}
		os.Stdout.Write(data)
		return
	}

	path := *out
	if path == "" {
		if path, err = secretstream.DefaultSecretPath(); err != nil {
			log.Fatalf("Could not locate secret file: %s", err)
		}
	}
	if err := secretstream.WriteSecretFile(path, kp); err != nil {
		log.Fatalf("Could not write secret file: %s", err)
	}
	fmt.Printf("Secret file: %s\n", path)
	fmt.Printf("Public key:  %s\n", kp.Public)
}
