// Package ledger provides the Mirror Truth Ledger: an append-only, hash-chained
// record of everything the system has ingested, forecast, resolved and decided.
//
// # Overview
//
// Every entry carries a gapless sequence number, a typed payload and the SHA-256
// hash of its canonical form, which includes the hash of the previous entry. The
// first entry links to GenesisHash. Tampering with any persisted entry is detected
// by Verify at the index of the first altered entry.
//
// Entries are never updated or deleted. The Ledger type serialises appends through
// a single writer and, when the persisted tail no longer matches its recorded hash,
// seals itself: reads keep working but every further append fails with an
// IntegrityError.
//
// # Backends
//
// Storage is pluggable through the Backend interface:
//
//   - MemoryBackend keeps entries in a slice (tests, one-shot runs)
//   - RedisBackend stores entries in a Redis list under mirror:{instance}:ledger
//   - PostgresBackend stores entries in a ledger_entries table
//
// All backends perform a conditional append: the write only lands if the tail
// hash is still the one the writer chained against.
//
// # Usage Example
//
//	backend := ledger.NewMemoryBackend()
//	l, err := ledger.Open(ctx, backend)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	entry, err := l.Append(ctx, &ledger.ForecastOpenPayload{
//		ForecastID:  "fc-1",
//		Question:    "Will the ECB cut rates by July?",
//		Probability: 0.35,
//	})
//
// # Forecasts
//
// The forecast index is derived from FORECAST_OPEN, FORECAST_RESOLVE and
// probability_update SYSTEM_UPDATE entries. Brier scores are computed at
// resolution time and recorded in the ledger.
package ledger
