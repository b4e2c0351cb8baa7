package app

import "fmt"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はトークン認証APIとBot向けAPIを提供する。
	CommandServe Command = "serve"
	// CommandWorker はイベント開始通知を行う。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを操作する。migrate [up|down|version]
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中サーバーの/healthを確認する。
	// シェルを持たないコンテナイメージのヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command
	Migrate MigrateAction // CommandMigrateの場合のみ設定される
}

// ParseCommand はos.Args[1:]を解析する。引数なしはserveとして扱う。
// 未知のサブコマンドはエラーとし、誤ってAPIサーバーを起動しないようにする。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandHealthcheck:
		return Invocation{Command: cmd}, nil
	case CommandMigrate:
		action := MigrateUp
		if len(args) > 1 {
			action = MigrateAction(args[1])
		}
		switch action {
		case MigrateUp, MigrateDown, MigrateVersion:
			return Invocation{Command: cmd, Migrate: action}, nil
		}
		return Invocation{}, fmt.Errorf("unknown migrate action %q (want up, down or version)", args[1])
	default:
		return Invocation{}, fmt.Errorf("unknown command %q (want serve, worker, migrate or healthcheck)", args[0])
	}
}
