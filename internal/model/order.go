package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Organization types.
const (
	OrgHQ           = "hq"
	OrgWarehouse    = "warehouse"
	OrgManufacturer = "manufacturer"
	OrgDistributor  = "distributor"
)

// Organization is read-only here. An hq buyer receives goods through its
// default warehouse.
type Organization struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name                  string     `gorm:"not null"`
	OrgType               string     `gorm:"type:varchar(20);not null"`
	DefaultWarehouseOrgID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt             time.Time
}

func (Organization) TableName() string { return "organizations" }

// Order is the purchase order a batch was produced for, or the destination of
// an outbound shipment.
type Order struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderNumber          string     `gorm:"type:varchar(60);not null"`
	BuyerOrgID           uuid.UUID  `gorm:"type:uuid;not null"`
	SellerOrgID          *uuid.UUID `gorm:"type:uuid"`
	WarrantyBonusPercent *int
	CreatedAt            time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	VariantID    uuid.UUID       `gorm:"type:uuid;not null"`
	Quantity     int             `gorm:"not null"`
	UnitsPerCase int             `gorm:"not null;default:0"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
}

func (OrderItem) TableName() string { return "order_items" }

// ProductVariant is read for labels only.
type ProductVariant struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name  string    `gorm:"not null"`
	Label string    `gorm:"type:varchar(120);index"`
}

func (ProductVariant) TableName() string { return "product_variants" }
