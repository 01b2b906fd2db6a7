package main

import (
	"os"

	"github.com/mhagrelius/youtube-downloader/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
