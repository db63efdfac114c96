package shellyedge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pat-rohn/timeseries"
)

func newMockPointDB(t *testing.T) (*PointDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPointDB(db, timeseries.DBConfig{Name: "mock", TableName: "points"}), mock
}

func TestPointDBWriteOneTransaction(t *testing.T) {
	pdb, mock := newMockPointDB(t)
	ts := time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)
	points := []Point{
		StatusPoint(testStatus, ts),
		SunPoint(SunSample{Time: ts, Latitude: 47.37, Longitude: 8.54, Azimuth: 197.7, Elevation: 65.2}),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO points").
		WithArgs("2024-06-21T12:00:00Z", MeasurementShelly, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO devices").
		WithArgs("A4CF12F3D1E2", "192.168.1.20", "4242", "2024-06-21T12:00:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO points").
		WithArgs("2024-06-21T12:00:00Z", MeasurementSunPosition, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	if err := pdb.Write(context.Background(), points); err != nil {
		t.Fatalf("Write(): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPointDBWriteRollsBack(t *testing.T) {
	pdb, mock := newMockPointDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO points").WillReturnError(fmt.Errorf("disk I/O error"))
	mock.ExpectRollback()

	if err := pdb.Write(context.Background(), []Point{StatusPoint(testStatus, time.Now())}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPointDBBeginFails(t *testing.T) {
	pdb, mock := newMockPointDB(t)
	mock.ExpectBegin().WillReturnError(fmt.Errorf("database is locked"))
	if err := pdb.Write(context.Background(), []Point{StatusPoint(testStatus, time.Now())}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPointDBSQLite(t *testing.T) {
	pdb, err := OpenPointDB(timeseries.DBConfig{Name: "points.db", IPOrPath: t.TempDir(), TableName: "points"})
	if err != nil {
		t.Fatalf("OpenPointDB(): %v", err)
	}
	defer pdb.Close()
	ctx := context.Background()

	t1 := time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Second)
	moved := testStatus
	moved.IP = "192.168.1.99"
	if err := pdb.Write(ctx, []Point{StatusPoint(testStatus, t1)}); err != nil {
		t.Fatal(err)
	}
	if err := pdb.Write(ctx, []Point{StatusPoint(moved, t2)}); err != nil {
		t.Fatal(err)
	}

	points, err := pdb.Points(ctx, MeasurementShelly, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points", len(points))
	}
	if !points[0].Time.Equal(t2) || points[0].Tags["ip"] != "192.168.1.99" {
		t.Errorf("newest point %+v", points[0])
	}
	if points[1].Fields["power"] != 120.5 || points[1].Tags["ison"] != true {
		t.Errorf("oldest point %+v", points[1])
	}

	devices, err := pdb.Devices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices", len(devices))
	}
	if devices[0].IP != "192.168.1.99" || devices[0].Serial != "4242" || !devices[0].LastSeen.Equal(t2) {
		t.Errorf("device %+v", devices[0])
	}
}
