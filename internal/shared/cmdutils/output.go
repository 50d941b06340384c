package cmdutils

import "fmt"

const logo = "◆"

func PrintResponse(text string) {
	if text == "" {
		return
	}

	fmt.Printf("\n%s persai\n%s\n\n", logo, text)
}
