// Command voice_bridge принимает входящие SIP звонки и ведет голосовой
// диалог с ассистентом: распознавание речи, языковая модель, синтез.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
