package model

import "time"

// ScheduleSnack is a snack offered for one particular schedule.  Its price
// may differ from the catalog base price of the snack.
//
// Fields:
//  ID                – primary key identifier.
//  ScheduleID        – schedule the offering belongs to.
//  SnackID           – snack catalog reference.
//  SnackName         – catalog name, for display and events.
//  PriceCents        – price per unit at this schedule, in cents.
//  AvailableQuantity – remaining stock (nil when uncapped).
//  Available         – whether the offering is currently on sale.
type ScheduleSnack struct {
    ID                uint64    // schedule_snacks.id
    ScheduleID        uint64    // schedule_snacks.schedule_id
    SnackID           uint64    // schedule_snacks.snack_id
    SnackName         string    // snacks.name
    PriceCents        int64     // schedule_snacks.price_cents
    AvailableQuantity *uint32   // schedule_snacks.available_quantity (nullable)
    Available         bool      // schedule_snacks.available
    CreatedAt         time.Time // schedule_snacks.created_at
    UpdatedAt         time.Time // schedule_snacks.updated_at
}
