// Command netbootd is the network-boot orchestration daemon: it wires the
// client store, DHCP sniffer, TFTP server, task subsystem, pub/sub bus and
// API/message dispatcher into one lifecycle-managed process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
	"github.com/bishopdynamics/NetbootStudioV2/internal/dhcpsniff"
	"github.com/bishopdynamics/NetbootStudioV2/internal/dispatcher"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/database"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/migrations"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
	"github.com/bishopdynamics/NetbootStudioV2/internal/tasks"
	"github.com/bishopdynamics/NetbootStudioV2/internal/tftpserver"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/netlog"
)

func main() {
	configDir := flag.String("c", "/opt/NetbootStudio", "configuration directory")
	mode := flag.String("m", "prod", "run mode: prod or dev")
	flag.Parse()

	cfg, err := config.Load(*configDir, *mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netbootd: load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Preflight(); err != nil {
		fmt.Fprintf(os.Stderr, "netbootd: preflight: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	hotlog := netlog.New("netbootd", *mode == "dev")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifeSecs)
	if err != nil {
		log.WithField("error", err).Fatal("netbootd: open database")
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(db.DB); err != nil {
			log.WithField("error", err).Fatal("netbootd: apply migrations")
		}
	}

	store := clientstore.NewRetryingStore(clientstore.NewPostgresStore(db), log)

	manager := lifecycle.NewManager()

	broker := pubsub.NewBroker(pubsub.BrokerConfig{
		Addr:     cfg.Broker.Addr,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
		CertFile: cfg.Broker.CertFile,
		KeyFile:  cfg.Broker.KeyFile,
	}, log)
	if err := manager.Register(broker); err != nil {
		log.WithField("error", err).Fatal("netbootd: register broker")
	}

	bus, err := pubsub.NewClient("netbootd", pubsub.ClientConfig{
		Addr:               cfg.Broker.Addr,
		Username:           cfg.Broker.Username,
		Password:           cfg.Broker.Password,
		CAFile:             cfg.Broker.CAFile,
		InsecureSkipVerify: cfg.Broker.Insecure,
	}, log)
	if err != nil {
		log.WithField("error", err).Fatal("netbootd: create bus client")
	}
	defer bus.Close()

	settingsFn := func() config.Settings {
		s, err := config.LoadSettings(cfg.Layout.SettingsFile)
		if err != nil {
			log.WithField("error", err).Warn("netbootd: load settings, using defaults")
			return config.DefaultSettings()
		}
		return s
	}

	expiryTicker := clientstore.NewExpiryTicker(store, bus, log)
	if err := manager.Register(expiryTicker); err != nil {
		log.WithField("error", err).Fatal("netbootd: register expiry ticker")
	}

	imageCache := tftpserver.NewImageCache(cfg.TFTP.MkimageBinary, cfg.Layout.TaskScratchDir)
	resolver := tftpserver.NewResolver(store, cfg.Layout, settingsFn, cfg.DHCP.BootFilename, imageCache, hotlog)
	tftpSrv := tftpserver.NewServer(cfg.TFTP, resolver, hotlog)
	if err := manager.Register(tftpSrv); err != nil {
		log.WithField("error", err).Fatal("netbootd: register tftp server")
	}

	sniffer := dhcpsniff.NewSniffer(dhcpsniff.Config{
		Interface:        cfg.DHCP.Interface,
		ServerIP:         cfg.DHCP.ServerIP,
		BootFilename:     cfg.DHCP.BootFilename,
		SettingsProvider: settingsSeedFor(settingsFn),
	}, store, hotlog)
	if err := manager.Register(sniffer); err != nil {
		log.WithField("error", err).Fatal("netbootd: register dhcp sniffer")
	}

	taskMap := tasks.BuildTaskMap(tasks.BuilderEnv{
		ScratchRoot:     cfg.Layout.TaskScratchDir,
		BootImagesRoot:  cfg.Layout.BootImagesRoot,
		IPXEBuildsRoot:  cfg.Layout.IPXEBuildsRoot,
		WimbootRoot:     cfg.Layout.WimbootRoot,
		ISORoot:         cfg.Layout.ISORoot,
		Stage1FilesRoot: cfg.Layout.Stage1FilesRoot,
	})
	taskManager := tasks.NewManager(cfg.Tasks, cfg.Layout.TaskScratchDir, taskMap, bus, log)
	if err := manager.Register(taskManager); err != nil {
		log.WithField("error", err).Fatal("netbootd: register task manager")
	}

	scratchGC := tasks.NewScratchGC(cfg.Layout.TaskScratchDir, cfg.Tasks.ScratchGCSpec,
		time.Duration(cfg.Tasks.ScratchGCMaxAgeHours)*time.Hour, log)
	if err := manager.Register(scratchGC); err != nil {
		log.WithField("error", err).Fatal("netbootd: register scratch gc")
	}

	d := dispatcher.New(dispatcher.Deps{
		Clients:      store,
		Tasks:        taskManager,
		SettingsFile: cfg.Layout.SettingsFile,
		Files: dispatcher.FileRoots{
			Stage1Files:       cfg.Layout.Stage1FilesRoot,
			UbootScripts:      cfg.Layout.UbootScriptsRoot,
			UnattendedConfigs: cfg.Layout.UnattendedRoot,
			BootImages:        cfg.Layout.BootImagesRoot,
			TFTPRoot:          cfg.Layout.TFTPRoot,
			Stage4:            cfg.Layout.Stage4Root,
			IPXEBuilds:        cfg.Layout.IPXEBuildsRoot,
			WimbootBuilds:     cfg.Layout.WimbootRoot,
			ISO:               cfg.Layout.ISORoot,
		},
		Audit:     dispatcher.NewPostgresSettingsAudit(db),
		Lifecycle: manager,
		Log:       log,
	})

	httpSrv := dispatcher.NewHTTPServer(d, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), log)
	if err := manager.Register(httpSrv); err != nil {
		log.WithField("error", err).Fatal("netbootd: register dispatcher http server")
	}

	apiBroker := dispatcher.NewBroker(d, bus, log)
	if err := manager.Register(apiBroker); err != nil {
		log.WithField("error", err).Fatal("netbootd: register dispatcher broker")
	}

	for _, p := range registerDataSources(store, taskManager, d, bus, log) {
		if err := manager.Register(p); err != nil {
			log.WithField("error", err).Fatal("netbootd: register data source provider")
		}
	}

	if err := manager.Start(ctx); err != nil {
		log.WithField("error", err).Fatal("netbootd: start")
	}
	log.Info("netbootd: started")

	<-ctx.Done()
	log.Info("netbootd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.WithField("error", err).Error("netbootd: shutdown error")
	}
}

// settingsSeedFor adapts the global Settings singleton into the
// clientstore.Config seed a newly discovered client is created with,
// including the arch-specific ipxe_build_<arch> (§3.2) so a client isn't
// re-treated as stub-needing on every subsequent Discover.
func settingsSeedFor(settingsFn func() config.Settings) func(arch clientstore.Arch) clientstore.Config {
	return func(arch clientstore.Arch) clientstore.Config {
		s := settingsFn()
		return clientstore.Config{
			BootImage:        s.BootImage,
			BootImageOnce:    s.BootImageOnce,
			UnattendedConfig: s.UnattendedConfig,
			DoUnattended:     s.DoUnattended,
			Stage4:           s.Stage4,
			IPXEBuild:        s.IPXEBuildFor(string(arch)),
		}
	}
}
