package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grantd.org/internal/access"
	"grantd.org/internal/audit"
	"grantd.org/internal/httpapi"
	"grantd.org/internal/obs"
	"grantd.org/internal/store/pg"
	"grantd.org/internal/stream"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store   access.Store
		catalog access.Catalog
		probe   httpapi.ReadyProbe
	)
	var pgStore *pg.Store
	if dsn := os.Getenv("GRANTD_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		catalog = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// No DSN: in-memory state with a tiny fixture org, dev only.
		log.Println("GRANTD_PG_DSN not set, running with in-memory store")
		store = access.NewInMemory()
		catalog = devCatalog()
	}

	activity := stream.New()
	svc, err := access.NewService(store, catalog,
		access.WithEventSink(access.MultiSink{audit.Sink{}, obs.EventCounter{}, activity}))
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	api := httpapi.New(probe, version, svc, activity)

	addr := os.Getenv("GRANTD_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting grantd-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func devCatalog() access.Catalog {
	c := access.NewStaticCatalog()
	c.AddUser(access.User{ID: "u-owner", Name: "Dana Reyes", Email: "dana.reyes@example.org", Role: access.RoleOwner})
	c.AddUser(access.User{ID: "u-mgr", Name: "Priya Nair", Email: "priya.nair@example.org", Role: access.RoleManager, ManagerID: "u-owner"})
	c.AddUser(access.User{ID: "u-dev1", Name: "Sam Okafor", Email: "sam.okafor@example.org", Role: access.RoleMember, ManagerID: "u-mgr"})
	c.AddUser(access.User{ID: "u-dev2", Name: "Lena Fischer", Email: "lena.fischer@example.org", Role: access.RoleMember, ManagerID: "u-mgr"})
	c.AddSystem(access.System{ID: "sys-crm", Name: "Customer CRM"})
	c.AddInstance(access.SystemInstance{ID: "inst-crm-prod", SystemID: "sys-crm", Name: "CRM production"})
	c.AddTier(access.AccessTier{ID: "tier-crm-read", SystemID: "sys-crm", Name: "Read only", SelfApprovable: true})
	c.AddTier(access.AccessTier{ID: "tier-crm-admin", SystemID: "sys-crm", Name: "Administrator"})
	return c
}
