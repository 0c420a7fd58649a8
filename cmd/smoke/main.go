package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"serviceelectro.org/internal/client"
	"serviceelectro.org/internal/ids"
	"serviceelectro.org/internal/messaging"
	"serviceelectro.org/internal/moderation"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	var (
		baseURL   = flag.String("url", envOr("ELECTRO_SMOKE_URL", "http://localhost:8080"), "API base URL")
		grpcAddr  = flag.String("grpc", os.Getenv("ELECTRO_SMOKE_GRPC_ADDR"), "gRPC health address (optional)")
		adminUser = flag.String("admin-email", os.Getenv("ELECTRO_ADMIN_EMAIL"), "Admin email")
		adminPass = flag.String("admin-password", os.Getenv("ELECTRO_ADMIN_PASSWORD"), "Admin password")
	)
	flag.Parse()
	if *adminUser == "" || *adminPass == "" {
		logger.Fatal().Msg("admin credentials are required: -admin-email/-admin-password or ELECTRO_ADMIN_*")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *grpcAddr != "" {
		ok, err := client.Healthy(ctx, *grpcAddr)
		if err != nil || !ok {
			logger.Fatal().Err(err).Bool("serving", ok).Msg("grpc health")
		}
	}

	c := client.New(*baseURL)
	email := fmt.Sprintf("smoke-%s@example.com", ids.New())
	if _, err := c.Signup(ctx, email, "smoke-pass", "smoke"); err != nil {
		logger.Fatal().Err(err).Msg("signup")
	}
	userSession, err := c.Login(ctx, email, "smoke-pass")
	if err != nil {
		logger.Fatal().Err(err).Msg("login user")
	}
	adminSession, err := c.Login(ctx, *adminUser, *adminPass)
	if err != nil {
		logger.Fatal().Err(err).Msg("login admin")
	}
	user := c.WithToken(userSession.Token)
	admin := c.WithToken(adminSession.Token)

	pub, err := user.CreatePublication(ctx, moderation.Draft{
		Title:       "Smoke test listing",
		Description: "Created by the smoke tool",
		Type:        "smoke",
		Price:       1,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create publication")
	}
	if pub.Verified {
		logger.Fatal().Int64("publication_id", pub.ID).Msg("new publication must start unverified")
	}
	if _, err := admin.Verify(ctx, pub.ID, adminSession.UserID); err != nil {
		logger.Fatal().Err(err).Msg("verify")
	}
	if _, err := admin.SetInCatalog(ctx, pub.ID, true); err != nil {
		logger.Fatal().Err(err).Msg("catalog")
	}

	listed, err := c.ListPublic(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("list catalog")
	}
	if !contains(listed, pub.ID) {
		logger.Fatal().Int64("publication_id", pub.ID).Msg("publication missing from catalog")
	}
	notes, err := user.Notifications(ctx)
	if err != nil || len(notes) < 2 {
		logger.Fatal().Err(err).Int("notifications", len(notes)).Msg("owner notifications")
	}

	msg, err := user.SendMessage(ctx, adminSession.UserID, "Smoke test: thanks for the review")
	if err != nil {
		logger.Fatal().Err(err).Msg("send message")
	}
	inbox, err := admin.Inbox(ctx)
	if err != nil || !containsMessage(inbox, msg.ID) {
		logger.Fatal().Err(err).Str("message_id", msg.ID).Msg("admin inbox")
	}

	if _, err := admin.Unverify(ctx, pub.ID); err != nil {
		logger.Fatal().Err(err).Msg("unverify")
	}
	listed, err = c.ListPublic(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("list catalog")
	}
	if contains(listed, pub.ID) {
		logger.Fatal().Int64("publication_id", pub.ID).Msg("unverified publication still listed")
	}

	if err := admin.DeleteUser(ctx, userSession.UserID); err != nil {
		logger.Fatal().Err(err).Msg("cleanup")
	}
	fmt.Printf("smoke test passed: user=%d publication=%d\n", userSession.UserID, pub.ID)
}

func contains(pubs []moderation.Publication, id int64) bool {
	for _, p := range pubs {
		if p.ID == id {
			return true
		}
	}
	return false
}

func containsMessage(msgs []messaging.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
