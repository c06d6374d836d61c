package dicom

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mrsinham/dicomprep/internal/dicom/faults"
	"github.com/mrsinham/dicomprep/internal/dicom/modalities"
	"github.com/mrsinham/dicomprep/internal/util"
	"github.com/mrsinham/dicomprep/internal/volume"
)

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds, opts...)
}

// mustNewElement creates a new DICOM element, panicking on error.
func mustNewElement(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// Field is a linear intensity field in patient coordinates:
// value(p) = Base + Gradient·p. Trilinear interpolation reproduces a linear
// field exactly, which makes resampled output predictable.
type Field struct {
	Base     float64
	Gradient [3]float64
}

// At evaluates the field at physical point p.
func (f Field) At(p [3]float64) float64 {
	return f.Base + f.Gradient[0]*p[0] + f.Gradient[1]*p[1] + f.Gradient[2]*p[2]
}

// SeriesSpec describes one synthetic series.
type SeriesSpec struct {
	Description string
	// Protocol is a modalities protocol kind (T1, T2, DWI, ADC). Empty means T2.
	Protocol string
	// UID overrides the derived SeriesInstanceUID.
	UID string
	// SeriesNumber defaults to the 1-based position in the study.
	SeriesNumber int
	// Size is columns, rows, slices.
	Size      [3]int
	Spacing   [3]float64
	Origin    [3]float64
	Direction [3][3]float64 // zero value means identity
	// AcquisitionTime defaults to the study date plus SeriesNumber minutes.
	AcquisitionTime time.Time
	// OmitAcquisitionTime writes no AcquisitionDate/Time, so readers fall
	// back on SeriesDate/Time.
	OmitAcquisitionTime bool
	Intensity           Field
	// Noise is the amplitude of uniform noise added to every pixel.
	Noise float64
	// Overlay burns the description into every slice.
	Overlay bool
	// ShuffleFiles writes slices under file names and instance numbers that
	// do not follow the slice order.
	ShuffleFiles bool
	Faults       faults.Config
}

// Grid returns the geometry the series is written with.
func (s SeriesSpec) Grid() volume.Grid {
	g := volume.Grid{Size: s.Size, Spacing: s.Spacing, Origin: s.Origin, Direction: s.Direction}
	if g.Direction == ([3][3]float64{}) {
		g.Direction = volume.Identity
	}
	return g
}

// StudySpec describes one synthetic study and its series.
type StudySpec struct {
	PatientID   string
	PatientName string
	// StudyUID overrides the derived StudyInstanceUID.
	StudyUID    string
	StudyDate   time.Time // zero = 2024-01-15 08:00
	Description string
	// Scanner defaults to a catalog entry picked from the seed.
	Scanner modalities.Scanner
	Series  []SeriesSpec
}

// GeneratorOptions contains all parameters needed to generate a set of studies.
type GeneratorOptions struct {
	OutputDir string
	Studies   []StudySpec
	Seed      int64 // 0 = derived from OutputDir
	Workers   int   // Number of parallel workers (0 = auto-detect based on CPU cores)
	Layout    Layout

	// Output control
	Quiet            bool                     // Suppress progress output
	ProgressCallback func(current, total int) // Optional callback for progress updates
}

// GeneratedFile contains information about a generated DICOM file
type GeneratedFile struct {
	Path           string
	PatientID      string
	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
	SeriesNumber   int
	InstanceNumber int
	// SliceIndex is the position of the instance along the slice normal.
	SliceIndex int
}

// imageTask contains all data needed to generate a single DICOM image
type imageTask struct {
	index     int
	filePath  string
	rows      int
	cols      int
	metadata  []*dicom.Element
	writeOpts []dicom.WriteOption
	// pixel (x, y) lies at corner + x*colStep + y*rowStep
	corner      [3]float64
	colStep     [3]float64
	rowStep     [3]float64
	field       Field
	noise       float64
	pixelSeed   uint64
	textOverlay string
	file        GeneratedFile
}

var defaultStudyDate = time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)

// GenerateStudies writes every study of opts under opts.OutputDir.
func GenerateStudies(opts GeneratorOptions) ([]GeneratedFile, error) {
	if len(opts.Studies) == 0 {
		return nil, fmt.Errorf("no studies to generate")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}

	var seed int64
	if opts.Seed != 0 {
		seed = opts.Seed
	} else {
		h := fnv.New64a()
		_, _ = h.Write([]byte(opts.OutputDir)) // hash.Write never returns an error
		seed = int64(h.Sum64())
	}
	rng := randv2.New(randv2.NewPCG(uint64(seed), uint64(seed)))
	scanners := modalities.Scanners()
	pixelConfig := modalities.MRPixelConfig()

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	// Phase 1: build all tasks sequentially (maintains determinism)
	var tasks []imageTask
	extraFiles := make(map[string][]byte)
	patientIdx := make(map[string]int)
	studiesPerPatient := make(map[string]int)

	for studyNum, study := range opts.Studies {
		if len(study.Series) == 0 {
			return nil, fmt.Errorf("study %d has no series", studyNum+1)
		}
		patientID := study.PatientID
		if patientID == "" {
			patientID = fmt.Sprintf("PID%06d", rng.IntN(900000)+100000)
		}
		if _, ok := patientIdx[patientID]; !ok {
			patientIdx[patientID] = len(patientIdx)
		}
		studyIdx := studiesPerPatient[patientID]
		studiesPerPatient[patientID]++

		patientName := study.PatientName
		if patientName == "" {
			patientName = "ANON^" + patientID
		}
		studyUID := study.StudyUID
		if studyUID == "" {
			studyUID = util.GenerateDeterministicUID(fmt.Sprintf("%d_study_%d", seed, studyNum))
		}
		frameOfReferenceUID := util.GenerateDeterministicUID(fmt.Sprintf("%d_study_%d_frame", seed, studyNum))
		studyDate := study.StudyDate
		if studyDate.IsZero() {
			studyDate = defaultStudyDate
		}
		studyDescription := study.Description
		if studyDescription == "" {
			studyDescription = "MRI PROSTATE"
		}
		scanner := study.Scanner
		if scanner.Manufacturer == "" {
			scanner = scanners[rng.IntN(len(scanners))]
		}

		for seriesIdx, spec := range study.Series {
			g := spec.Grid()
			if err := g.Validate(); err != nil {
				return nil, fmt.Errorf("study %d, series %d: %w", studyNum+1, seriesIdx+1, err)
			}
			protocolKind := spec.Protocol
			if protocolKind == "" {
				protocolKind = "T2"
			}
			protocol, err := modalities.GetProtocol(protocolKind)
			if err != nil {
				return nil, fmt.Errorf("study %d, series %d: %w", studyNum+1, seriesIdx+1, err)
			}
			seriesNum := spec.SeriesNumber
			if seriesNum == 0 {
				seriesNum = seriesIdx + 1
			}
			seriesUID := spec.UID
			if seriesUID == "" {
				seriesUID = util.GenerateDeterministicUID(fmt.Sprintf("%d_study_%d_series_%d", seed, studyNum, seriesIdx))
			}
			acquired := spec.AcquisitionTime
			if acquired.IsZero() {
				acquired = studyDate.Add(time.Duration(seriesNum) * time.Minute)
			}

			seriesSeed := fnv.New64a()
			_, _ = fmt.Fprintf(seriesSeed, "%d_faults_%d_%d", seed, studyNum, seriesIdx)
			applicator := faults.NewApplicator(spec.Faults, randv2.New(randv2.NewPCG(seriesSeed.Sum64(), 0)))

			dir := opts.Layout.seriesDir(opts.OutputDir, patientIdx[patientID], studyIdx, seriesIdx)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create series directory: %w", err)
			}
			for name, data := range applicator.ExtraFiles() {
				extraFiles[filepath.Join(dir, opts.Layout.extraName(seriesUID, name))] = data
			}

			numSlices := g.Size[2]
			order := make([]int, numSlices)
			for i := range order {
				order[i] = i
			}
			if spec.ShuffleFiles {
				rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
				if numSlices > 1 && isIdentity(order) {
					order[0], order[1] = order[1], order[0]
				}
			}

			rowCos, colCos, normal := g.Axis(0), g.Axis(1), g.Axis(2)
			for k := 0; k < numSlices; k++ {
				sl := faults.Slice{
					Index:       k,
					Rows:        g.Size[1],
					Cols:        g.Size[0],
					Position:    g.Point(0, 0, float64(k)),
					Orientation: [6]float64{rowCos[0], rowCos[1], rowCos[2], colCos[0], colCos[1], colCos[2]},
					Normal:      normal,
					Step:        g.Spacing[2],
				}
				applicator.ApplyToSlice(&sl, numSlices)

				fileSlot := order[k]
				instanceNumber := fileSlot + 1
				sopInstanceUID := util.GenerateDeterministicUID(
					fmt.Sprintf("%d_study_%d_series_%d_instance_%d", seed, studyNum, seriesIdx, k))

				metadata := []*dicom.Element{
					mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
					mustNewElement(tag.PatientName, []string{patientName}),
					mustNewElement(tag.PatientID, []string{patientID}),
					mustNewElement(tag.PatientSex, []string{"M"}),
					mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
					mustNewElement(tag.StudyID, []string{fmt.Sprintf("%d", studyNum+1)}),
					mustNewElement(tag.StudyDate, []string{studyDate.Format("20060102")}),
					mustNewElement(tag.StudyTime, []string{studyDate.Format("150405")}),
					mustNewElement(tag.StudyDescription, []string{studyDescription}),
					mustNewElement(tag.SeriesNumber, []string{fmt.Sprintf("%d", seriesNum)}),
					mustNewElement(tag.SeriesDescription, []string{spec.Description}),
					mustNewElement(tag.SeriesDate, []string{acquired.Format("20060102")}),
					mustNewElement(tag.SeriesTime, []string{acquired.Format("150405")}),
					mustNewElement(tag.Modality, []string{string(modalities.MR)}),
					mustNewElement(tag.SOPInstanceUID, []string{sopInstanceUID}),
					mustNewElement(tag.SOPClassUID, []string{modalities.MRImageStorage}),
					mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", instanceNumber)}),
					mustNewElement(tag.PixelSpacing, []string{formatDS(g.Spacing[1]), formatDS(g.Spacing[0])}),
					mustNewElement(tag.SliceThickness, []string{formatDS(g.Spacing[2])}),
					mustNewElement(tag.SpacingBetweenSlices, []string{formatDS(g.Spacing[2])}),
					mustNewElement(tag.ImagePositionPatient, []string{
						formatDS(sl.Position[0]), formatDS(sl.Position[1]), formatDS(sl.Position[2]),
					}),
					mustNewElement(tag.ImageOrientationPatient, []string{
						formatDS(sl.Orientation[0]), formatDS(sl.Orientation[1]), formatDS(sl.Orientation[2]),
						formatDS(sl.Orientation[3]), formatDS(sl.Orientation[4]), formatDS(sl.Orientation[5]),
					}),
					mustNewElement(tag.SliceLocation, []string{formatDS(sl.Position[2])}),
					mustNewElement(tag.FrameOfReferenceUID, []string{frameOfReferenceUID}),
					mustNewElement(tag.Rows, []int{sl.Rows}),
					mustNewElement(tag.Columns, []int{sl.Cols}),
					mustNewElement(tag.BitsAllocated, []int{int(pixelConfig.BitsAllocated)}),
					mustNewElement(tag.BitsStored, []int{int(pixelConfig.BitsStored)}),
					mustNewElement(tag.HighBit, []int{int(pixelConfig.HighBit)}),
					mustNewElement(tag.PixelRepresentation, []int{int(pixelConfig.PixelRepresentation)}),
					mustNewElement(tag.SamplesPerPixel, []int{1}),
					mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
					mustNewElement(tag.BodyPartExamined, []string{"PROSTATE"}),
					mustNewElement(tag.ProtocolName, []string{spec.Description}),
					mustNewElement(tag.InstitutionName, []string{"SYNTHETIC HOSPITAL"}),
				}
				if !sl.OmitSeriesUID {
					metadata = append(metadata, mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}))
				}
				if !spec.OmitAcquisitionTime {
					metadata = append(metadata,
						mustNewElement(tag.AcquisitionDate, []string{acquired.Format("20060102")}),
						mustNewElement(tag.AcquisitionTime, []string{acquired.Format("150405")}),
					)
				}

				ds := &dicom.Dataset{Elements: metadata}
				modalities.AppendMRElements(ds, scanner, protocol)
				metadata = ds.Elements

				var writeOpts []dicom.WriteOption
				if private := applicator.PrivateElements(scanner.Manufacturer); len(private) > 0 {
					metadata = append(metadata, private...)
					writeOpts = []dicom.WriteOption{dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()}
				}
				// Elements must be written in (Group, Element) order.
				sort.Slice(metadata, func(i, j int) bool {
					if metadata[i].Tag.Group != metadata[j].Tag.Group {
						return metadata[i].Tag.Group < metadata[j].Tag.Group
					}
					return metadata[i].Tag.Element < metadata[j].Tag.Element
				})

				pixelSeedHash := fnv.New64a()
				_, _ = fmt.Fprintf(pixelSeedHash, "%d_pixel_%d", seed, len(tasks))

				var overlay string
				if spec.Overlay {
					overlay = fmt.Sprintf("%s %d/%d", protocol.Kind, k+1, numSlices)
				}

				path := filepath.Join(dir, opts.Layout.fileName(seriesUID, fileSlot))
				task := imageTask{
					index:     len(tasks),
					filePath:  path,
					rows:      sl.Rows,
					cols:      sl.Cols,
					metadata:  metadata,
					writeOpts: writeOpts,
					corner:    sl.Position,
					colStep: [3]float64{
						sl.Orientation[0] * g.Spacing[0], sl.Orientation[1] * g.Spacing[0], sl.Orientation[2] * g.Spacing[0],
					},
					rowStep: [3]float64{
						sl.Orientation[3] * g.Spacing[1], sl.Orientation[4] * g.Spacing[1], sl.Orientation[5] * g.Spacing[1],
					},
					field:       spec.Intensity,
					noise:       spec.Noise,
					pixelSeed:   pixelSeedHash.Sum64(),
					textOverlay: overlay,
					file: GeneratedFile{
						Path:           path,
						PatientID:      patientID,
						StudyUID:       studyUID,
						SeriesUID:      seriesUID,
						SOPInstanceUID: sopInstanceUID,
						SeriesNumber:   seriesNum,
						InstanceNumber: instanceNumber,
						SliceIndex:     k,
					},
				}
				tasks = append(tasks, task)
			}
		}
	}

	if !opts.Quiet {
		fmt.Printf("Generating %d DICOM files for %d studies...\n", len(tasks), len(opts.Studies))
	}

	for path, data := range extraFiles {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
	}

	// Phase 2: process tasks in parallel
	if err := runTasks(tasks, opts); err != nil {
		return nil, err
	}

	generatedFiles := make([]GeneratedFile, len(tasks))
	for i, task := range tasks {
		generatedFiles[i] = task.file
	}

	if !opts.Quiet {
		fmt.Printf("\n✓ %d DICOM files created in: %s/\n", len(tasks), opts.OutputDir)
	}
	return generatedFiles, nil
}

func runTasks(tasks []imageTask, opts GeneratorOptions) error {
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	// Don't use more workers than tasks
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}

	taskChan := make(chan imageTask, len(tasks))
	resultChan := make(chan struct {
		index int
		err   error
	}, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				err := generateImageFromTask(task)
				resultChan <- struct {
					index int
					err   error
				}{task.index, err}
			}
		}()
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	var firstErr error
	for result := range resultChan {
		if result.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("generate image %d: %w", result.index, result.err)
		}
		completed++
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(completed, len(tasks))
		}
		if !opts.Quiet && (completed%10 == 0 || completed == len(tasks)) {
			progress := float64(completed) / float64(len(tasks)) * 100
			fmt.Printf("  Progress: %d/%d (%.0f%%)\n", completed, len(tasks), progress)
		}
	}
	return firstErr
}

// generateImageFromTask renders the pixel data of one slice and writes the file.
func generateImageFromTask(task imageTask) error {
	width, height := task.cols, task.rows
	maxValue := float64(modalities.MRPixelConfig().MaxValue)
	rng := randv2.New(randv2.NewPCG(task.pixelSeed, task.pixelSeed))

	nativeFrame := frame.NewNativeFrame[uint16](16, height, width, width*height, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var p [3]float64
			for a := 0; a < 3; a++ {
				p[a] = task.corner[a] + float64(x)*task.colStep[a] + float64(y)*task.rowStep[a]
			}
			intensity := task.field.At(p)
			if task.noise > 0 {
				intensity += (rng.Float64() - 0.5) * task.noise
			}
			nativeFrame.RawData[y*width+x] = uint16(math.Max(0, math.Min(maxValue, math.Round(intensity))))
		}
	}

	if task.textOverlay != "" {
		drawTextOnFrame16(nativeFrame.RawData, width, height, task.textOverlay, uint16(maxValue))
	}

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}

	elements := make([]*dicom.Element, len(task.metadata)+1)
	copy(elements, task.metadata)
	elements[len(task.metadata)] = mustNewElement(tag.PixelData, pixelDataInfo)

	return writeDatasetToFile(task.filePath, dicom.Dataset{Elements: elements}, task.writeOpts...)
}

// drawTextOnFrame16 burns text, white with a black outline, into the center
// of a 16-bit frame whose values range up to maxValue.
func drawTextOnFrame16(raw []uint16, width, height int, text string, maxValue uint16) {
	face := basicfont.Face7x13
	baseTextWidth := font.MeasureString(face, text).Ceil()
	baseTextHeight := 13
	if baseTextWidth == 0 {
		return
	}

	textImg := image.NewRGBA(image.Rect(0, 0, baseTextWidth, baseTextHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	// Text spans 30% of the frame width, at least twice the glyph size.
	scaleFactor := math.Max(2.0, float64(width)*0.3/float64(baseTextWidth))
	scaledWidth := int(float64(baseTextWidth) * scaleFactor)
	scaledHeight := int(float64(baseTextHeight) * scaleFactor)
	scaled := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), textImg, textImg.Bounds(), draw.Over, nil)

	x0 := (width - scaledWidth) / 2
	y0 := (height - scaledHeight) / 2
	outline := max(1, scaledHeight/10)

	set := func(x, y int, v uint16) {
		if x >= 0 && x < width && y >= 0 && y < height {
			raw[y*width+x] = v
		}
	}
	for sy := 0; sy < scaledHeight; sy++ {
		for sx := 0; sx < scaledWidth; sx++ {
			if _, _, _, a := scaled.At(sx, sy).RGBA(); a == 0 {
				continue
			}
			for dy := -outline; dy <= outline; dy++ {
				for dx := -outline; dx <= outline; dx++ {
					if dx*dx+dy*dy <= outline*outline {
						set(x0+sx+dx, y0+sy+dy, 0)
					}
				}
			}
		}
	}
	for sy := 0; sy < scaledHeight; sy++ {
		for sx := 0; sx < scaledWidth; sx++ {
			r, g, b, a := scaled.At(sx, sy).RGBA()
			if a == 0 {
				continue
			}
			brightness := float64(r+g+b) / 3 / 0xffff
			set(x0+sx, y0+sy, uint16(brightness*float64(maxValue)))
		}
	}
}

// formatDS formats a Decimal String value, at most 16 characters.
func formatDS(f float64) string {
	if math.Abs(f) < 5e-7 {
		return "0"
	}
	s := fmt.Sprintf("%.6f", f)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return trimDot(s)
}

func trimDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

func isIdentity(order []int) bool {
	for i, v := range order {
		if v != i {
			return false
		}
	}
	return true
}
