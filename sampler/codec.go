package sampler

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"image/png"
	"io"
)

// mapKeyword names the zTXt chunk that carries grid metadata in PNG maps
const mapKeyword = "OccupancyGrid"

// DecodeGrid decodes an occupancy grid message in one of three forms:
//   - PNG image with a zTXt chunk holding MapMetadata JSON
//   - raw JSON OccupancyGrid
//   - zlib-compressed JSON OccupancyGrid
func DecodeGrid(data []byte) (*OccupancyGrid, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}

	if IsPNG(data) {
		metaJSON, err := extractPNGzTXt(data, mapKeyword)
		if err != nil {
			return nil, fmt.Errorf("extracting PNG zTXt: %w", err)
		}
		var meta MapMetadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("parsing map metadata: %w", err)
		}
		if meta.Resolution <= 0 {
			return nil, fmt.Errorf("map metadata has invalid resolution %v", meta.Resolution)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding map image: %w", err)
		}
		grid := GridFromImage(img, meta)
		grid.Frame = meta.Frame
		return grid, nil
	}

	var grid OccupancyGrid
	if err := decodeJSONPayload(data, &grid); err != nil {
		return nil, err
	}
	if !grid.Valid() {
		return nil, errInvalidGrid
	}
	return &grid, nil
}

// EncodeGridPNG renders grid as a map_server image and embeds its metadata in
// a zTXt chunk, the inverse of DecodeGrid's PNG branch
func EncodeGridPNG(grid *OccupancyGrid) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, GridToImage(grid)); err != nil {
		return nil, fmt.Errorf("encoding map image: %w", err)
	}
	meta, err := json.Marshal(grid.Metadata(""))
	if err != nil {
		return nil, fmt.Errorf("marshaling map metadata: %w", err)
	}
	chunk, err := zTXtChunk(mapKeyword, meta)
	if err != nil {
		return nil, err
	}

	// The chunk goes straight after IHDR: 8-byte signature + 25-byte IHDR.
	raw := buf.Bytes()
	const afterIHDR = 8 + 4 + 4 + 13 + 4
	out := make([]byte, 0, len(raw)+len(chunk))
	out = append(out, raw[:afterIHDR]...)
	out = append(out, chunk...)
	out = append(out, raw[afterIHDR:]...)
	return out, nil
}

// DecodeScan decodes a LaserScan message (raw or zlib-compressed JSON)
func DecodeScan(data []byte) (*LaserScan, error) {
	var scan LaserScan
	if err := decodeJSONPayload(data, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// DecodeOdometry decodes an Odometry message (raw or zlib-compressed JSON)
func DecodeOdometry(data []byte) (*Odometry, error) {
	var odom Odometry
	if err := decodeJSONPayload(data, &odom); err != nil {
		return nil, err
	}
	return &odom, nil
}

// DecodeTransform decodes a TransformStamped message (raw or zlib-compressed
// JSON)
func DecodeTransform(data []byte) (*TransformStamped, error) {
	var tf TransformStamped
	if err := decodeJSONPayload(data, &tf); err != nil {
		return nil, err
	}
	if tf.Parent == "" || tf.Child == "" {
		return nil, fmt.Errorf("transform needs parent and child frames")
	}
	return &tf, nil
}

// decodeJSONPayload unmarshals raw JSON, or inflates zlib data first
func decodeJSONPayload(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty data")
	}
	jsonBytes := data
	if data[0] != '{' {
		inflated, err := inflateZlib(data)
		if err != nil {
			return fmt.Errorf("unknown format: not JSON or zlib-compressed JSON")
		}
		jsonBytes = inflated
	}
	if err := json.Unmarshal(jsonBytes, v); err != nil {
		return fmt.Errorf("parsing JSON payload: %w", err)
	}
	return nil
}

// IsPNG checks if data starts with PNG magic bytes
func IsPNG(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G'
}

// extractPNGzTXt returns the inflated text of the first zTXt chunk with the
// given keyword.
// PNG structure: 8-byte header, then chunks (length, type, data, CRC)
func extractPNGzTXt(data []byte, keyword string) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("data too short for PNG")
	}

	pos := 8
	for pos+12 <= len(data) {
		chunkLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		chunkType := string(data[pos : pos+4])
		pos += 4

		if pos+int(chunkLen)+4 > len(data) {
			return nil, fmt.Errorf("truncated PNG chunk")
		}

		if chunkType == "zTXt" {
			chunkData := data[pos : pos+int(chunkLen)]
			if bytes.HasPrefix(chunkData, []byte(keyword+"\x00")) {
				text, err := extractZTXtData(chunkData)
				if err != nil {
					return nil, fmt.Errorf("extracting zTXt data: %w", err)
				}
				return text, nil
			}
		}

		pos += int(chunkLen) + 4
		if chunkType == "IEND" {
			break
		}
	}

	return nil, fmt.Errorf("no %s zTXt chunk found in PNG", keyword)
}

// extractZTXtData parses and decompresses zTXt chunk data
// Format: keyword\0compression_method compressed_text
func extractZTXtData(data []byte) ([]byte, error) {
	nullIdx := bytes.IndexByte(data, 0)
	if nullIdx == -1 {
		return nil, fmt.Errorf("no null terminator in zTXt chunk")
	}
	if nullIdx+1 >= len(data) {
		return nil, fmt.Errorf("truncated zTXt chunk")
	}

	compressionMethod := data[nullIdx+1]
	if compressionMethod != 0 {
		return nil, fmt.Errorf("unsupported compression method: %d", compressionMethod)
	}
	return inflateZlib(data[nullIdx+2:])
}

// zTXtChunk builds a complete zTXt chunk (length, type, data, CRC)
func zTXtChunk(keyword string, text []byte) ([]byte, error) {
	var body bytes.Buffer
	body.WriteString("zTXt")
	body.WriteString(keyword)
	body.WriteByte(0)
	body.WriteByte(0) // zlib
	zw := zlib.NewWriter(&body)
	if _, err := zw.Write(text); err != nil {
		return nil, fmt.Errorf("compressing zTXt: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing zTXt: %w", err)
	}

	chunk := make([]byte, 4, 4+body.Len()+4)
	binary.BigEndian.PutUint32(chunk, uint32(body.Len()-4))
	chunk = append(chunk, body.Bytes()...)
	return binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(body.Bytes())), nil
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}
