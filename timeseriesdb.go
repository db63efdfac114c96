package shellyedge

import (
	"context"
	"strings"
	"sync"

	"github.com/pat-rohn/timeseries"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// TimeseriesSink stores every field of a point as its own series.
type TimeseriesSink struct {
	conf   timeseries.DBConfig
	db     *timeseries.DbHandler
	insert func(timeseries.TimeseriesImportStruct) error
	mutex  sync.Mutex
}

func NewTimeseriesSink(config timeseries.DBConfig) (*TimeseriesSink, error) {
	logger := log.WithFields(log.Fields{"fnct": "NewTimeseriesSink", "name": config.Name})
	logger.Infoln("init")
	db := timeseries.DBHandler(config)
	if err := db.CreateTimeseriesTable(); err != nil {
		logger.Errorf("failed to create table: %v", err)
		return nil, errors.Wrap(err, "creating timeseries table")
	}
	return &TimeseriesSink{
		conf: config,
		db:   db,
		insert: func(ts timeseries.TimeseriesImportStruct) error {
			return db.InsertTimeseries(ts, true)
		},
	}, nil
}

// TimeseriesBatch groups the fields of points into series, in the order the
// series first appear.
func TimeseriesBatch(points []Point) []timeseries.TimeseriesImportStruct {
	var batch []timeseries.TimeseriesImportStruct
	index := map[string]int{}
	for _, p := range points {
		timestamp := p.Time.UTC().Format(TimestampFormat)
		comment := strings.Join(p.TagList(), ";")
		for _, field := range p.FieldNames() {
			key := p.SeriesKey(field)
			i, ok := index[key]
			if !ok {
				i = len(batch)
				index[key] = i
				batch = append(batch, timeseries.TimeseriesImportStruct{Tag: key})
			}
			batch[i].Timestamps = append(batch[i].Timestamps, timestamp)
			batch[i].Values = append(batch[i].Values, FormatValue(p.Fields[field]))
			batch[i].Comments = append(batch[i].Comments, comment)
		}
	}
	return batch
}

// Write inserts the series of the batch; the first failing series fails the batch.
func (s *TimeseriesSink) Write(ctx context.Context, points []Point) error {
	logFields := log.Fields{"fnct": "TimeseriesSink.Write", "name": s.conf.Name}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, ts := range TimeseriesBatch(points) {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.WithFields(logFields).Tracef("insert %d/%d entries for %s",
			len(ts.Timestamps), len(ts.Values), ts.Tag)
		if err := s.insert(ts); err != nil {
			log.WithFields(logFields).Errorf("Failed to insert values into database: %v", err)
			return errors.Wrapf(err, "inserting %s", ts.Tag)
		}
	}
	return nil
}

func (s *TimeseriesSink) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
