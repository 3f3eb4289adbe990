package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metafed/metafed/db"
	"github.com/metafed/metafed/discovery"
	"github.com/metafed/metafed/federation"
	"github.com/metafed/metafed/messaging"
	"github.com/metafed/metafed/util"
	"github.com/metafed/metafed/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.NewDB(util.ResolveFilePath("database.db"))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	resolver := discovery.NewResolver(nil,
		time.Duration(conf.Conf.DiscoveryCacheTTLMin)*time.Minute)

	deliverer := federation.NewDeliverer(resolver, nil, database, federation.DeliveryConfig{
		Timeout:       time.Duration(conf.Conf.DeliveryTimeoutSec) * time.Second,
		RetryAttempts: conf.Conf.RetryAttempts,
		RetryDelay:    time.Duration(conf.Conf.RetryDelaySec) * time.Second,
		MaxConcurrent: conf.Conf.MaxConcurrentDeliveries,
	}, conf.Conf.Domain, util.GetVersion())

	fetcher := federation.NewActorFetcher(resolver, nil, database)
	dispatcher := federation.NewDispatcher(database, database)
	processor := federation.NewProcessor(database, database, dispatcher, fetcher)
	messages := messaging.NewManager(database, fetcher, deliverer, conf.Conf.Domain)

	server := web.NewServer(conf, database, processor, messages)
	startServing(server, conf)
}

func startServing(server *web.Server, conf *util.AppConfig) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil && err != http.ErrServerClosed {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping federation server")
}
