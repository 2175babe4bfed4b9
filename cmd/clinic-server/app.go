package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/config"
	"github.com/clinicmanager/clinic/internal/domain/billing"
	"github.com/clinicmanager/clinic/internal/domain/chat"
	"github.com/clinicmanager/clinic/internal/domain/clinic"
	"github.com/clinicmanager/clinic/internal/domain/inventory"
	"github.com/clinicmanager/clinic/internal/domain/lab"
	"github.com/clinicmanager/clinic/internal/domain/notification"
	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/domain/prescription"
	"github.com/clinicmanager/clinic/internal/domain/queue"
	"github.com/clinicmanager/clinic/internal/domain/specialist"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/paystack"
	"github.com/clinicmanager/clinic/internal/platform/webpush"
	"github.com/clinicmanager/clinic/internal/platform/websocket"
)

// app holds every domain service wired to one pool and one event bus. It is
// shared by the server and the operator subcommands.
type app struct {
	bus     *events.Bus
	hub     *websocket.Hub
	pusher  *webpush.Sender
	gateway *paystack.Client

	clinics      *clinic.Service
	patients     *patient.Service
	queues       *queue.Service
	billing      *billing.Service
	inventory    *inventory.Service
	specialists  *specialist.Service
	prescribing  *prescription.Service
	labs         *lab.Service
	notification *notification.Service
	chat         *chat.Service
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *app {
	tx := db.NewTransactor(pool)
	bus := events.NewBus(logger)
	hub := websocket.NewHub(logger)
	pusher := webpush.NewSender(webpush.NewPGKeyStore(pool), cfg.VAPIDSubject)
	gateway := paystack.New(paystack.Config{
		SecretKey:  cfg.PaystackSecretKey,
		BaseURL:    cfg.PaystackBaseURL,
		Timeout:    cfg.PaystackTimeout,
		MaxRetries: cfg.PaystackMaxRetries,
	})

	clinicSvc := clinic.NewService(clinic.NewClinicRepoPG(pool), gateway, bus, logger)
	clinicSvc.PercentageCharge = cfg.PaystackPercentage

	patientSvc := patient.NewService(
		patient.NewDoctorRepoPG(pool),
		patient.NewPatientRepoPG(pool),
		patient.NewConsultationRepoPG(pool),
	)

	queueSvc := queue.NewService(queue.NewEntryRepoPG(pool), patientSvc, bus)

	billingSvc := billing.NewService(tx, billing.Repositories{
		Bills:    billing.NewBillRepoPG(pool),
		Items:    billing.NewItemRepoPG(pool),
		Payments: billing.NewPaymentRepoPG(pool),
		Debts:    billing.NewDebtRepoPG(pool),
	}, gateway, clinicSvc, patientSvc, bus, logger)
	billingSvc.CallbackURL = cfg.PaystackCallbackURL
	billingSvc.WebhookSecret = cfg.PaystackSecretKey

	inventorySvc := inventory.NewService(tx, inventory.Repositories{
		Items:          inventory.NewItemRepoPG(pool),
		Locations:      inventory.NewLocationRepoPG(pool),
		Suppliers:      inventory.NewSupplierRepoPG(pool),
		Stock:          inventory.NewStockRepoPG(pool),
		PurchaseOrders: inventory.NewPurchaseOrderRepoPG(pool),
	}, bus, logger)
	inventorySvc.DefaultLocation = cfg.DefaultStockLocation

	specialistSvc := specialist.NewService(tx,
		specialist.NewCatalogRepoPG(pool),
		specialist.NewTaskRepoPG(pool),
		patientSvc, billingSvc, bus, logger)

	prescriptionSvc := prescription.NewService(tx, prescription.NewRepoPG(pool),
		patientSvc, inventorySvc, billingSvc, bus, logger)

	labSvc := lab.NewService(tx, lab.NewTestRepoPG(pool), lab.NewResultRepoPG(pool), patientSvc, bus, logger)

	notificationSvc := notification.NewService(
		notification.NewNotificationRepoPG(pool),
		notification.NewSubscriptionRepoPG(pool),
		hub, pusher, cfg.NotifyRecipient, logger)

	chatSvc := chat.NewService(chat.NewRoomRepoPG(pool), chat.NewMessageRepoPG(pool), bus)

	clinicSvc.RegisterHandlers(bus)
	specialistSvc.RegisterHandlers(bus)
	notificationSvc.RegisterHandlers(bus)

	return &app{
		bus:          bus,
		hub:          hub,
		pusher:       pusher,
		gateway:      gateway,
		clinics:      clinicSvc,
		patients:     patientSvc,
		queues:       queueSvc,
		billing:      billingSvc,
		inventory:    inventorySvc,
		specialists:  specialistSvc,
		prescribing:  prescriptionSvc,
		labs:         labSvc,
		notification: notificationSvc,
		chat:         chatSvc,
	}
}
