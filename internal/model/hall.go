package model

import (
    "strconv"
    "time"
)

// Hall represents a screening hall.  The seating layout is a grid of
// SeatRows rows (labelled A, B, ... AA) by SeatCols seats per row.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – display name of the hall.
//  Capacity  – total number of sellable seats.
//  SeatRows  – number of seating rows.
//  SeatCols  – number of seats per row.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Hall struct {
    ID        uint64    // halls.id
    Name      string    // halls.name
    Capacity  uint32    // halls.capacity
    SeatRows  uint32    // halls.seat_rows
    SeatCols  uint32    // halls.seat_cols
    CreatedAt time.Time // halls.created_at
    UpdatedAt time.Time // halls.updated_at
}

// SeatLabels expands a rows x cols grid into labels such as A1, A2, B1,
// stopping once capacity labels have been produced.  A zero capacity means
// the whole grid is sellable.
func SeatLabels(rows, cols, capacity uint32) []string {
    total := rows * cols
    if capacity > 0 && capacity < total {
        total = capacity
    }
    labels := make([]string, 0, total)
    for r := uint32(0); r < rows; r++ {
        row := RowLabel(int(r))
        for c := uint32(1); c <= cols; c++ {
            if uint32(len(labels)) >= total {
                return labels
            }
            labels = append(labels, row+strconv.FormatUint(uint64(c), 10))
        }
    }
    return labels
}

// RowLabel converts a zero-based index to an alphabetical row label like A, B, AA.
func RowLabel(i int) string {
    if i < 0 {
        return ""
    }
    res := []rune{}
    for {
        rem := i % 26
        res = append(res, rune('A'+rem))
        i = i/26 - 1
        if i < 0 {
            break
        }
    }
    for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
        res[j], res[k] = res[k], res[j]
    }
    return string(res)
}
