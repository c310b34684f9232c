package app

import (
	"errors"
	"fmt"
	"strings"
)

// Command はバイナリのサブコマンドを表す。
type Command string

const (
	// CommandServe は閲覧者APIと管理APIを提供するサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れの管理者セッションを定期削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みスキーマを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを叩いて終了する。
	// distrolessイメージにはcurlがないため、DockerのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
)

// Commands はサポートするサブコマンドの一覧。Usageの表示順を兼ねる。
var Commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ErrUnknownCommand はサポート外のサブコマンドが指定されたことを示す。
var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand は先頭の引数をサブコマンドとして解析する。
// 引数がない場合はCommandServeとする。typoでサーバーが起動しないよう、
// サポート外のコマンドは ErrUnknownCommand を返す。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range Commands {
		if string(c) == args[0] {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q (usage: %s)", ErrUnknownCommand, args[0], Usage())
}

// Usage はサブコマンドの一覧を "serve | worker | ..." の形式で返す。
func Usage() string {
	names := make([]string, len(Commands))
	for i, c := range Commands {
		names[i] = string(c)
	}
	return "birthday-portal [" + strings.Join(names, " | ") + "]"
}
