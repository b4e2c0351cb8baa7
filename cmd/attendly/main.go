// attendly はイベント出席管理のAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	attendly [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/attendly/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "attendly: %v\n", err)
		os.Exit(1)
	}
}
