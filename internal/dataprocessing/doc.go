// Package dataprocessing turns raw race material into canonical race
// documents. It consolidates the three ingestion paths into one package:
// normalizing JSON documents loaded from disk or HTTP, parsing pasted
// result tables, and extracting races from Excel workbook exports.
//
// # Architecture
//
// The package is organized into three main components:
//
// 1. Normalizer: converts tolerant wire documents into canonical races
// 2. Import parser: heuristic reader for pasted delimited result tables
// 3. Workbook reader: one-race-per-sheet extraction from Excel exports
//
// # Usage
//
// Normalizing a decoded document:
//
//	race, dropped := dataprocessing.NormalizeDocument(doc, "ws2025")
//
// Parsing pasted text:
//
//	parsed, err := dataprocessing.ParseResultTable(text)
//	if err != nil {
//	    // no usable rows at all
//	}
//
// Building a dataset from a workbook:
//
//	dataset, err := dataprocessing.ReadWorkbook("results.xlsx")
//	manifest, err := dataprocessing.WriteDataset(dataset, outDir)
//
// # Data Flow
//
// The typical flow through this package:
//
//	Workbook / pasted text / JSON → canonical Race → store → analytics
//
// # Error Handling
//
// Row-level problems never fail an ingestion: records with a missing
// rank or score are dropped and counted, and only an input that yields
// zero usable rows returns an error (ErrNoValidRows for pasted tables).
//
// # Testing
//
// The package includes table-driven tests for every parsing heuristic.
// Use table-driven tests when adding new formats.
package dataprocessing
