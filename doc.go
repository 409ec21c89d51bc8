// Package entgate is an embeddable entitlement and usage-accounting
// engine for multi-tenant services that sell access through quota
// bundles: purchased credits, free-tier allowances, trial windows, and
// recurring period allowances.
//
// The engine owns one account per organization and answers two questions
// about it: "may this request proceed right now" (Evaluate) and "charge
// one request durably" (Commit). Buckets are tried in a fixed order:
// unlimited, purchased, free, trial, period. A commit charges
// exactly one bucket behind an optimistic version check, so concurrent
// callers can never over-consume a grant.
//
// Provider state arrives through signed webhooks (Ingest) and is kept
// honest by a reconciliation sweep (Scan) that queries the provider
// directly and repairs drift through the same idempotent mutation path
// webhooks use.
//
// Basic usage:
//
//	st := memory.New()
//	engine := entgate.New(st,
//		entgate.WithWebhookSecret(secret),
//		entgate.WithHook(audit.New(logger)),
//	)
//	if err := engine.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	d, err := engine.Evaluate(ctx, accountID)
//	if err != nil || !d.Allowed {
//		// deny, surface d.Reason / d.ShouldUpgrade
//	}
//	receipt, err := engine.Commit(ctx, accountID, requestID)
package entgate
