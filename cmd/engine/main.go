package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/stepmesh/proof-engine/internal/api"
	"github.com/stepmesh/proof-engine/internal/attest"
	"github.com/stepmesh/proof-engine/internal/config"
	"github.com/stepmesh/proof-engine/internal/db"
	"github.com/stepmesh/proof-engine/internal/engine"
	"github.com/stepmesh/proof-engine/internal/heuristics"
	"github.com/stepmesh/proof-engine/internal/mesh"
)

func main() {
	log.Println("Starting StepMesh Proof Engine (Microservice: location-proof-validator)...")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx := context.Background()
	store, err := db.Connect(ctx, cfg.DatabaseURL, cfg.StartupDBWait)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to PostgreSQL within %s: %v", cfg.StartupDBWait, err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: DB schema init failed: %v", err)
	}
	if err := seedMesh(ctx, store, cfg.MeshSeedIDs); err != nil {
		log.Fatalf("FATAL: Mesh seeding failed: %v", err)
	}

	verifiers := buildVerifiers(cfg)

	var towers heuristics.TowerLocator
	if cfg.CellLookupURL != "" {
		towers = heuristics.NewHTTPTowerLocator(cfg.CellLookupURL, cfg.CellLookupFallbackURL,
			cfg.CellLookupAPIKey, cfg.CellLookupTimeout)
	} else {
		log.Println("Warning: CELL_LOOKUP_URL not set, cell tower cross-checks score zero")
	}

	hub := api.NewHub()
	go hub.Run()

	eng := engine.New(store, cfg, verifiers, towers, hub)
	r := api.SetupRouter(store, eng, hub, cfg)

	log.Printf("Engine running on :%s (environment: %s, attestation required: %v)\n",
		cfg.Port, cfg.Environment, cfg.RequireAttestation)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// seedMesh materializes the 20 root faces plus any configured deeper cells.
// Deeper triangles otherwise only come into existence through subdivision.
func seedMesh(ctx context.Context, store *db.Store, extraIDs string) error {
	now := time.Now().UTC()
	seeded := 0
	for face := 0; face < mesh.NumFaces; face++ {
		id, err := mesh.Encode(face, 1, nil)
		if err != nil {
			return err
		}
		t, err := mesh.BuildTriangle(id, now)
		if err != nil {
			return err
		}
		if err := store.UpsertTriangle(ctx, t); err != nil {
			return err
		}
		seeded++
	}
	for _, id := range strings.Split(extraIDs, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		t, err := mesh.BuildTriangle(id, now)
		if err != nil {
			log.Printf("Warning: skipping invalid seed id %q: %v", id, err)
			continue
		}
		if err := store.UpsertTriangle(ctx, t); err != nil {
			return err
		}
		seeded++
	}
	log.Printf("Mesh seeded (%d triangles ensured)", seeded)
	return nil
}

// buildVerifiers wires the platform attestation verifiers that have endpoints
// configured. Missing verifiers degrade to zero attestation points unless
// attestation is required.
func buildVerifiers(cfg *config.Config) attest.Registry {
	verifiers := make(attest.Registry)
	if cfg.AttestationJWKSURL != "" {
		v, err := attest.NewIntegrityVerifier(cfg.AttestationJWKSURL)
		if err != nil {
			log.Printf("Warning: Android integrity verifier unavailable: %v", err)
		} else {
			verifiers[attest.PlatformAndroid] = v
		}
	}
	if cfg.AppAttestURL != "" {
		verifiers[attest.PlatformIOS] = attest.NewAppAttestVerifier(cfg.AppAttestURL, cfg.AttestationTimeout)
	}
	if len(verifiers) == 0 {
		if cfg.RequireAttestation {
			log.Println("Warning: attestation is required but no verifier endpoint is configured; tokens will fail open to zero points")
		} else {
			log.Println("Attestation verifiers not configured, scoring without them")
		}
	}
	return verifiers
}
