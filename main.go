package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"CRMProject/global/config"
	"CRMProject/middleware"
	chathandler "CRMProject/module/chat"
	"CRMProject/module/chat/message"
	chatservice "CRMProject/module/chat/service"
	"CRMProject/module/notify"
	"CRMProject/module/user"
	userservice "CRMProject/module/user/service"
	"CRMProject/service/audit"
	"CRMProject/service/blob"
	gateway "CRMProject/service/chat"
	"CRMProject/service/storage"
	redisx "CRMProject/service/storage/redis"
	"CRMProject/service/transport"
	"CRMProject/service/transport/natsx"

	"CRMProject/logger"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// ---- 存储 ----
	db, err := storage.NewMongo(ctx, storage.MongoConfig{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		logger.Errorf("[main] mongo connect: %v", err)
		os.Exit(1)
	}

	msgStore := message.NewStore(db)
	if err := msgStore.EnsureIndexes(ctx); err != nil {
		logger.Errorf("[main] message indexes: %v", err)
		os.Exit(1)
	}
	notifStore := notify.NewStore(db)
	if err := notifStore.EnsureIndexes(ctx); err != nil {
		logger.Errorf("[main] notification indexes: %v", err)
		os.Exit(1)
	}
	dir := user.NewMongoDirectory(db)

	// redis 旁路在线登记（连不上只降级，不拦启动）
	var presence *storage.Presence
	var lastSeen chatservice.LastSeener
	if rdb, err := redisx.NewClient(redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}); err != nil {
		logger.Warnf("[main] redis unavailable, presence side view disabled: %v", err)
	} else {
		presence = storage.NewPresence(rdb, cfg.Gateway.PresenceTTL)
		lastSeen = presence
	}

	blobStore, err := blob.NewDiskStorage(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		logger.Errorf("[main] blob storage: %v", err)
		os.Exit(1)
	}

	// ---- 传输层 ----
	var bus transport.PresenceTransport
	switch cfg.Transport.Driver {
	case config.TransportNats:
		bus, err = natsx.New(natsx.Config{Servers: cfg.Nats.Servers, Name: cfg.Nats.Name})
		if err != nil {
			logger.Errorf("[main] nats connect: %v", err)
			os.Exit(1)
		}
	default:
		bus = transport.NewHub(transport.HubConf{})
	}
	defer func() { _ = bus.Close() }()

	tracker, err := transport.NewTracker(bus, transport.OnlineUsersChannel)
	if err != nil {
		logger.Errorf("[main] presence tracker: %v", err)
		os.Exit(1)
	}
	defer tracker.Close()

	// ---- 业务装配 ----
	auth := userservice.NewAuthService(dir, cfg.JWT.Secret, cfg.JWT.TTL)
	dispatcher := notify.NewDispatcher(notifStore, dir, bus)
	msgSvc := chatservice.NewMessagingService(msgStore, dir, bus, blobStore, lastSeen, audit.NewLogSink())
	msgSvc.Mentions = dispatcher

	chatH := chathandler.NewHandler(msgSvc)
	notifH := notify.NewHandler(notifStore)
	userH := user.NewHandler(auth, tracker)
	gw := gateway.NewGateway(auth, bus, presence, gateway.Conf{
		SendQueue:   cfg.Gateway.SendQueue,
		PresenceTTL: cfg.Gateway.PresenceTTL,
	})

	// ---- 路由 ----
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Origin(cfg.HTTP.AllowedOrigins))

	rt := middleware.NewRouter(auth, nil)

	rt.POST(r, "/login", userH.Login, middleware.RouteOpt{})
	rt.GET(r, "/presence", userH.OnlineUsers, middleware.RouteOpt{IsAuth: true})

	rt.POST(r, "/messages", chatH.SendMessage, middleware.RouteOpt{IsAuth: true})
	// contacts 先于 :userId 注册，避免被参数路由吞掉
	rt.GET(r, "/messages/contacts", chatH.Contacts, middleware.RouteOpt{IsAuth: true})
	rt.POST(r, "/messages/typing", chatH.Typing, middleware.RouteOpt{IsAuth: true})
	rt.GET(r, "/messages/:userId", chatH.GetConversation, middleware.RouteOpt{IsAuth: true})
	rt.PUT(r, "/messages/:userId", chatH.MarkConversationRead, middleware.RouteOpt{IsAuth: true})

	rt.GET(r, "/notifications", notifH.List, middleware.RouteOpt{IsAuth: true})
	rt.POST(r, "/notifications/:id/read", notifH.MarkOneRead, middleware.RouteOpt{IsAuth: true})
	rt.POST(r, "/notifications/read-all", notifH.MarkAllRead, middleware.RouteOpt{IsAuth: true})

	// 网关自行做握手认证（支持 ?token=）
	r.GET("/ws", gw.HandleWS)

	// 本地附件直出
	r.Static(cfg.Blob.BaseURL, cfg.Blob.Dir)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}
	go func() {
		logger.Infof("[main] listening on %s (transport=%s)", cfg.HTTP.Addr, cfg.Transport.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[main] http server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[main] shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Errorf("[main] shutdown: %v", err)
	}
}
