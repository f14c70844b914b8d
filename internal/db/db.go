package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"courier-simulator/internal/fleet"
	"courier-simulator/internal/geo"
	"courier-simulator/internal/nav"
	"courier-simulator/internal/stops"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchActiveRoutes returns every route whose scheduling window has not
// ended by now, with its waypoints and stops attached. Routes that have
// not departed yet are included so the manager can schedule them.
func FetchActiveRoutes(ctx context.Context, db *sql.DB, now time.Time) ([]fleet.Route, error) {
	q := `SELECT route_id, vehicle_id, COALESCE(encoded_path, ''), speed_mps, depart_at, end_at
          FROM routes
          WHERE end_at IS NULL OR end_at >= $1
          ORDER BY route_id`
	rows, err := db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []fleet.Route
	for rows.Next() {
		var r fleet.Route
		var departAt, endAt sql.NullTime
		if err := rows.Scan(&r.RouteID, &r.VehicleID, &r.EncodedPath, &r.SpeedMps, &departAt, &endAt); err != nil {
			return nil, err
		}
		if departAt.Valid {
			r.DepartAt = departAt.Time
		}
		if endAt.Valid {
			r.EndAt = endAt.Time
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range routes {
		if routes[i].EncodedPath == "" {
			wps, err := FetchRouteWaypoints(ctx, db, routes[i].RouteID)
			if err != nil {
				return nil, err
			}
			routes[i].Waypoints = wps
		}
		sts, err := FetchRouteStops(ctx, db, routes[i].RouteID)
		if err != nil {
			return nil, err
		}
		routes[i].Stops = sts
	}
	return routes, nil
}

// FetchRouteWaypoints loads the hand-authored waypoint list for routes
// that carry no encoded path.
func FetchRouteWaypoints(ctx context.Context, db *sql.DB, routeID string) ([]nav.Waypoint, error) {
	q := `SELECT lat, lng, COALESCE(pause_ms, 0)
          FROM route_waypoints
          WHERE route_id = $1
          ORDER BY seq`
	rows, err := db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query route_waypoints: %w", err)
	}
	defer rows.Close()

	var wps []nav.Waypoint
	for rows.Next() {
		var lat, lng float64
		var pauseMs int64
		if err := rows.Scan(&lat, &lng, &pauseMs); err != nil {
			return nil, err
		}
		wps = append(wps, nav.Waypoint{
			Position: geo.Coordinate{Lat: lat, Lng: lng},
			Pause:    time.Duration(pauseMs) * time.Millisecond,
		})
	}
	return wps, rows.Err()
}

// FetchRouteStops loads the scripted stops for a route in visit order.
// Stops with an unknown kind are skipped rather than failing the route.
func FetchRouteStops(ctx context.Context, db *sql.DB, routeID string) ([]stops.Stop, error) {
	q := `SELECT stop_id, kind, lat, lng, COALESCE(recipient, ''), COALESCE(notes, ''), COALESCE(status, 'pending')
          FROM route_stops
          WHERE route_id = $1
          ORDER BY seq`
	rows, err := db.QueryContext(ctx, q, routeID)
	if err != nil {
		return nil, fmt.Errorf("query route_stops: %w", err)
	}
	defer rows.Close()

	var result []stops.Stop
	for rows.Next() {
		var s stops.Stop
		var kind, status string
		if err := rows.Scan(&s.ID, &kind, &s.Position.Lat, &s.Position.Lng, &s.Recipient, &s.Notes, &status); err != nil {
			return nil, err
		}
		switch stops.Kind(kind) {
		case stops.KindDepotStart, stops.KindDelivery, stops.KindPickup, stops.KindDepotEnd:
			s.Kind = stops.Kind(kind)
		default:
			continue
		}
		s.Status = stops.Status(status)
		result = append(result, s)
	}
	return result, rows.Err()
}
