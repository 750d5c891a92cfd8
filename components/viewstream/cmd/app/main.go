package main

import (
	libCommons "github.com/LerianStudio/lib-commons/v2/commons"

	"github.com/weftworks/loom/components/viewstream/internal/bootstrap"
)

func main() {
	libCommons.InitLocalEnvConfig()
	bootstrap.InitService().Run()
}
