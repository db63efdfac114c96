package shellyedge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pat-rohn/timeseries"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// PointDB keeps points with their tags in a relational database together
// with a registry of the devices seen.
type PointDB struct {
	conf  timeseries.DBConfig
	table string
	DB    *sql.DB
}

type DeviceRecord struct {
	Mac      string    `json:"mac"`
	IP       string    `json:"ip"`
	Serial   string    `json:"serial"`
	LastSeen time.Time `json:"last_seen"`
}

// OpenPointDB opens the postgres or sqlite database of conf and creates the tables.
func OpenPointDB(conf timeseries.DBConfig) (*PointDB, error) {
	logFields := log.Fields{"fnct": "OpenPointDB", "name": conf.Name}
	log.WithFields(logFields).Infoln("init")
	var database *sql.DB
	var err error
	if conf.UsePostgres {
		psqlInfo := fmt.Sprintf("host=%s port=%d user=%s "+
			"password=%s dbname=%s sslmode=disable",
			conf.IPOrPath, conf.Port, conf.User, conf.Password, conf.Name)
		database, err = sql.Open("postgres", psqlInfo)
		if err != nil {
			log.WithFields(logFields).Errorf("Failed to open db %v", err)
			return nil, errors.Wrap(err, "failed to open db")
		}
	} else {
		if len(conf.IPOrPath) > 0 {
			if err := os.MkdirAll(conf.IPOrPath, 0755); err != nil {
				log.WithFields(logFields).Errorf("Failed to create path %v", err)
				return nil, errors.Wrap(err, "failed to create db folder")
			}
		}
		database, err = sql.Open("sqlite", filepath.Join(conf.IPOrPath, conf.Name))
		if err != nil {
			log.WithFields(logFields).Errorf("Failed to open db %v", err)
			return nil, errors.Wrap(err, "failed to open db")
		}
		// one writer for sqlite
		database.SetMaxOpenConns(1)
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to reach db")
	}
	pdb := NewPointDB(database, conf)
	if err := pdb.CreateTables(); err != nil {
		database.Close()
		return nil, err
	}
	log.WithFields(logFields).Infof("Opened database with name %s", conf.Name)
	return pdb, nil
}

func NewPointDB(db *sql.DB, conf timeseries.DBConfig) *PointDB {
	table := conf.TableName
	if table == "" {
		table = "points"
	}
	return &PointDB{conf: conf, table: table, DB: db}
}

func (p *PointDB) CreateTables() error {
	logFields := log.Fields{"fnct": "CreateTables", "name": p.conf.Name}
	idStr := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if p.conf.UsePostgres {
		idStr = "id SERIAL PRIMARY KEY"
	}
	sqlStr := `CREATE TABLE IF NOT EXISTS ` + p.table + ` (
			` + idStr + `,
			timestamp   TEXT NOT NULL,
			measurement TEXT NOT NULL,
			tags        TEXT NOT NULL,
			fields      TEXT NOT NULL
		);`
	if _, err := p.DB.Exec(sqlStr); err != nil {
		log.WithFields(logFields).Errorf("failed to create points table:%v", err)
		return errors.Wrap(err, "creating points table")
	}
	sqlStr = `CREATE TABLE IF NOT EXISTS devices (
			mac       TEXT PRIMARY KEY,
			ip        TEXT NOT NULL,
			serial    TEXT NOT NULL,
			last_seen TEXT NOT NULL
		);`
	if _, err := p.DB.Exec(sqlStr); err != nil {
		log.WithFields(logFields).Errorf("failed to create devices table:%v", err)
		return errors.Wrap(err, "creating devices table")
	}
	return nil
}

// Write stores the batch in one transaction.
func (p *PointDB) Write(ctx context.Context, points []Point) error {
	logFields := log.Fields{"fnct": "PointDB.Write", "points": len(points)}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		log.WithFields(logFields).Error(err)
		return errors.Wrap(err, "begin")
	}
	if err := p.insertPoints(ctx, tx, points); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			log.WithFields(logFields).Errorf("insert failed: %v, unable to rollback: %v", err, rollbackErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		log.WithFields(logFields).Error(err)
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (p *PointDB) insertPoints(ctx context.Context, tx *sql.Tx, points []Point) error {
	insertPoint := `INSERT INTO ` + p.table + ` (timestamp, measurement, tags, fields) VALUES (` + p.placeholders(4) + `)`
	upsertDevice := `INSERT INTO devices (mac, ip, serial, last_seen) VALUES (` + p.placeholders(4) + `)
		ON CONFLICT (mac) DO UPDATE SET ip = excluded.ip, serial = excluded.serial, last_seen = excluded.last_seen`
	for _, point := range points {
		tags, err := json.Marshal(point.Tags)
		if err != nil {
			return errors.Wrap(err, "encoding tags")
		}
		fields, err := json.Marshal(point.Fields)
		if err != nil {
			return errors.Wrap(err, "encoding fields")
		}
		timestamp := point.Time.UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, insertPoint, timestamp, point.Measurement, string(tags), string(fields)); err != nil {
			return errors.Wrapf(err, "inserting %s point", point.Measurement)
		}
		if point.Measurement != MeasurementShelly {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertDevice,
			FormatValue(point.Tags["mac"]), FormatValue(point.Tags["ip"]),
			FormatValue(point.Tags["serial"]), timestamp); err != nil {
			return errors.Wrap(err, "updating device registry")
		}
	}
	return nil
}

// placeholder returns the n-th bind parameter in the syntax of the driver.
func (p *PointDB) placeholder(n int) string {
	if p.conf.UsePostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (p *PointDB) placeholders(count int) string {
	params := make([]string, count)
	for i := range params {
		params[i] = p.placeholder(i + 1)
	}
	return strings.Join(params, ", ")
}

// Points returns the latest points of a measurement, newest first.
func (p *PointDB) Points(ctx context.Context, measurement string, limit int) ([]Point, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT timestamp, measurement, tags, fields FROM `+p.table+
		` WHERE measurement = `+p.placeholder(1)+` ORDER BY id DESC LIMIT `+p.placeholder(2), measurement, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying points")
	}
	defer rows.Close()
	var points []Point
	for rows.Next() {
		var timestamp, tags, fields string
		var point Point
		if err := rows.Scan(&timestamp, &point.Measurement, &tags, &fields); err != nil {
			return nil, errors.Wrap(err, "scanning point")
		}
		if point.Time, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, errors.Wrap(err, "parsing timestamp")
		}
		if err := json.Unmarshal([]byte(tags), &point.Tags); err != nil {
			return nil, errors.Wrap(err, "decoding tags")
		}
		if err := json.Unmarshal([]byte(fields), &point.Fields); err != nil {
			return nil, errors.Wrap(err, "decoding fields")
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

func (p *PointDB) Devices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT mac, ip, serial, last_seen FROM devices ORDER BY mac`)
	if err != nil {
		return nil, errors.Wrap(err, "querying devices")
	}
	defer rows.Close()
	var devices []DeviceRecord
	for rows.Next() {
		var dev DeviceRecord
		var lastSeen string
		if err := rows.Scan(&dev.Mac, &dev.IP, &dev.Serial, &lastSeen); err != nil {
			return nil, errors.Wrap(err, "scanning device")
		}
		if dev.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return nil, errors.Wrap(err, "parsing last_seen")
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

func (p *PointDB) Close() error {
	return p.DB.Close()
}
