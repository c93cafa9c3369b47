/*
Copyright © 2026 Samwes13
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	errGameNotFound      = errors.New("game not found")
	errPinTaken          = errors.New("gamepin already in use")
	errGameStarted       = errors.New("game already started")
	errGameNotStarted    = errors.New("game not started")
	errGameOver          = errors.New("game is over")
	errGameRunning       = errors.New("game still in progress")
	errNotHost           = errors.New("only the host may do that")
	errNotYourTurn       = errors.New("not your turn")
	errPlayerNotFound    = errors.New("player not found")
	errTraitsIncomplete  = errors.New("not all players have submitted traits")
	errTraitCount        = errors.New("wrong number of traits")
	errEmptyPool         = errors.New("no traits submitted")
	errNotEnoughPlayers  = errors.New("not enough players")
	errRevealActive      = errors.New("trait reveal in progress")
	errDecisionLocked    = errors.New("decision locked while the reveal settles")
	errNoReveal          = errors.New("no active trait reveal")
	errReplayUnavailable = errors.New("replay could not be arranged")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
