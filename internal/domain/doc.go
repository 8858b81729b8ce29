// Package domain models weather-ensemble forecast snapshots and the lag
// features derived from consecutive forecast runs.
//
// # Data Source
//
// Each tracked ensemble model publishes one snapshot file per forecast cycle.
// Snapshot files share a directory and are named with dot-separated fields:
//
//	<model>.<YYYYMMDD>.<HH>.<metric>.csv  →  e.g. "ecmwf-eps.20240115.12.gw_hdd.csv"
//
// The metric field selects the degree-day quantity (gas-weighted heating
// degree days, electric-weighted cooling degree days, ...). Only files whose
// metric matches the configured selector belong to a catalog.
//
// # Snapshot Body
//
// The body is a CSV table with a header row and at least three columns.
// Column index 2 is the lead-day indicator; rows with an indicator below 1
// describe the issue day itself and are discarded. The "Value" column carries
// the forecast magnitude. After filtering, series index 0 is lead day 1.
//
// # Alignment
//
// The models do not publish on the same schedule and each has gaps. Only the
// cycles present for every required model are processed; see [Align].
//
// # Offsets
//
// Lead days are counted from the issue date. When two consecutive runs fall on
// different calendar dates the newer run's lead-day indexing has rolled over
// by one day, so comparing the same valid date means reading the newer run one
// index earlier. [ResolveOffset] returns that correction (0 or 1).
//
// # Features
//
// Feature groups form a closed set ([GroupID]). Each group pairs a current
// model with a reference model over a window of series indices:
//
//	value[i] = current[i - offset] - reference[i]
//
// Columns are named by [GroupSpec.Column]; the ecmwf-eps revision columns
// (ecmwf-eps_9 … ecmwf-eps_14) double as training labels downstream.
//
// # Missing Values
//
// Groups are outer-joined on issue time. Under the default [FillZero] policy
// absent cells become 0, so zero means either "no change" or "not computed".
// [FillMissing] keeps NaN instead.
package domain
