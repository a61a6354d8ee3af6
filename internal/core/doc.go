// Package core turns raw layer and loss tables into records ready for upload.
//
// This package has no network or UI dependencies. Input arrives as a [Table]
// from any retriever, and a [ColumnSchema] maps canonical field names to the
// source columns.
//
// # Layers
//
// [ExtractLayers] validates the layer table (non-empty, unique layer ids) and
// coerces each row into a [LayerRecord]:
//
//   - monetary terms become [MonetaryAmount] values, with the currency taken
//     from the term's _ccy column, then the shared currency column, then the
//     configured default
//   - "unlimited" in a limit column becomes math.MaxFloat64
//   - reinstatements come from either a delimited column or the
//     count/premium/brokerage columns, see [ParseReinstatements]
//   - every unclaimed column is kept as metadata
//
// Terms absent from the input stay absent. Defaults are applied when the
// upload payload is built.
//
// # Losses
//
// [NewLossExtractor] validates a loss table for one [LossType], renames the
// source columns to the names the platform expects and groups rows by loss
// set id. [LossExtractor.LossSet] returns one sorted loss set.
//
// # Errors
//
// Configuration, validation and parse failures are typed ([ConfigError],
// [ValidationError], [ParseError], [ReinstatementError]) and carry a [Code].
// [MapError] converts any error to a [UserMessage] for display.
package core
