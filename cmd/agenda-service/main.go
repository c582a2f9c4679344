package main

import (
	"os"

	"github.com/sekretaria/agenda/agendaservice"
)

func main() {
	if err := agendaservice.Run(); err != nil {
		os.Exit(1)
	}
}
