/*
 * Copyright (c) 2024 Tomas Krizek
 */
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tomaskrizek/bind-dyndb-ldap/internal/ldapdns"
)

var appVersion = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "ldap-dyndb-backend",
	Short:   "syncs DNS zone data from an LDAP directory into a running DNS server",
	Version: appVersion,
	Run:     run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "/etc/ldap-dyndb-backend/ldap-dyndb-backend.yaml", "config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run is the daemon's startup/signal-handling sequence: load and
// validate config, set up logging, build the Instance, launch the
// syncrepl watcher and the admin API, then block until SIGINT or
// SIGTERM arrives. SIGHUP is only logged (see mainloop).
func run(cmd *cobra.Command, args []string) {
	cfg, err := ldapdns.LoadConfig(cfgFile)
	if err != nil {
		log.Fatalf("ldap-dyndb-backend: loading config %s: %v", cfgFile, err)
	}

	if err := ldapdns.SetupLogging(cfg.Log.File); err != nil {
		log.Fatalf("ldap-dyndb-backend: setting up logging: %v", err)
	}
	log.Printf("ldap-dyndb-backend %s starting, config %s", appVersion, cfgFile)

	cascade, err := cfg.LDAP.ToCascade()
	if err != nil {
		log.Fatalf("ldap-dyndb-backend: invalid ldap settings: %v", err)
	}

	journal, err := ldapdns.OpenJournal(cfg.Db.JournalPath)
	if err != nil {
		log.Fatalf("ldap-dyndb-backend: opening journal %s: %v", cfg.Db.JournalPath, err)
	}

	var auth ldapdns.AuthProvider = ldapdns.NewKinitAuthProvider()
	host := ldapdns.NewLogHost()
	path := ldapdns.NewDefaultPathPolicy(cascade.Directory())

	inst := ldapdns.NewInstance("default", cascade, auth, journal, host, host, path)

	for zname, zconf := range cfg.Zones {
		inst.SetZoneSettings(zname, zconf.ToSettings())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := ldapdns.NewSyncSession(inst.Pool, inst.Barrier, cascade.Base())
	dispatcher := ldapdns.NewDispatcher(inst, cascade.Base())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(ctx, dispatcher.HandleEvent); err != nil && ctx.Err() == nil {
			log.Printf("ldap-dyndb-backend: sync session exited: %v", err)
		}
	}()

	apiAddr := viper.GetString("app.listen")
	if apiAddr == "" {
		apiAddr = "127.0.0.1:8053"
	}
	router := ldapdns.NewAPIRouter(inst)
	server := &http.Server{Addr: apiAddr, Handler: router}
	go func() {
		log.Printf("ldap-dyndb-backend: admin API listening on %s", apiAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ldap-dyndb-backend: admin API exited: %v", err)
		}
	}()

	mainloop(ctx, cancel)

	_ = server.Close()
	wg.Wait()
	inst.Shutdown()
	fmt.Println("ldap-dyndb-backend: leaving mainloop, exiting")
}

// mainloop waits for SIGINT/SIGTERM to shut down cleanly. SIGHUP is
// accepted and logged for symmetry with the host server's own
// mainloop, but a syncrepl session already recovers from any
// disruption on its own (SyncSession.Run's retry loop), so there is nothing
// further for SIGHUP to trigger here.
func mainloop(ctx context.Context, cancel context.CancelFunc) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	hupper := make(chan os.Signal, 1)
	signal.Notify(hupper, syscall.SIGHUP)

	for {
		select {
		case <-exit:
			log.Println("ldap-dyndb-backend: mainloop: exit signal received, cleaning up")
			cancel()
			return
		case <-hupper:
			log.Println("ldap-dyndb-backend: mainloop: SIGHUP received (no-op)")
		case <-ctx.Done():
			return
		}
	}
}
