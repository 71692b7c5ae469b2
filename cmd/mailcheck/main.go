// Command mailcheck sends one message through the configured mail provider so
// SendGrid credentials can be checked without going through signup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"hospital/config"
	"hospital/utils"

	"go.uber.org/zap"
)

func main() {
	to := flag.String("to", "", "recipient address")
	flag.Parse()

	if err := run(*to); err != nil {
		fmt.Fprintln(os.Stderr, "mailcheck:", err)
		os.Exit(1)
	}
}

func run(to string) error {
	if err := utils.ValidateEmail(to); err != nil {
		return fmt.Errorf("-to: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := utils.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Mail.SendGridAPIKey == "" {
		return errors.New("SENDGRID_API_KEY is not set")
	}
	mailer := utils.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.SendGridHost, cfg.Mail.FromName, cfg.Mail.FromAddress, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mail.Timeout)
	defer cancel()

	err = mailer.Send(ctx, utils.Message{
		To:      utils.NormalizeEmail(to),
		Subject: "Hospital Management mail check",
		Text:    "Mail delivery from the Hospital Management System is working.",
		HTML:    "<strong>Mail delivery from the Hospital Management System is working.</strong>",
	})
	if err != nil {
		return err
	}
	log.Info("mail check succeeded", zap.String("to", to), zap.String("env", cfg.Env))
	return nil
}
