// Package tesseract implements ocr.Extractor on top of a local Tesseract
// installation via gosseract. Each text line becomes one region with its
// bounding box as a four-point polygon.
package tesseract
