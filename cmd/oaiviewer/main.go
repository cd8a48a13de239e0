package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/config"
	"oaiviewer/pkg/dashboard"
	"oaiviewer/pkg/dataset"
	"oaiviewer/pkg/intensity"
	"oaiviewer/pkg/server"
	"oaiviewer/pkg/stl"
	"oaiviewer/pkg/visualization"
	"oaiviewer/pkg/volume"
)

const usage = `Usage: oaiviewer [-config file] [-root dir] <command> [flags]

Commands:
  subjects     list subjects on disk with their KL grades
  slice        render a slice of a visit's DESS image
  view         render a slice of a DICOM directory or NIfTI file
  mesh         render the bone meshes of a visit coloured by a field
  view-mesh    render an .stl or .obj file coloured by a scalar file
  compare      render the longitudinal grid of one bone
  trend        chart the per-visit mean of a field
  mask-mesh    extract a segmentation label as binary STL
  serve        run the HTTP dashboard
  init-config  write the default configuration file
`

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	root := flag.String("root", "", "Study folder holding DATA/ and IMAGE/ (overrides data.root)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error (overrides logging.level)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	if cmd == "init-config" {
		runInitConfig(args)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if *root != "" {
		cfg.Data.Root = *root
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid configuration: %v", err)
	}

	_, closer, err := config.InitLogger(cfg.Logging)
	if err != nil {
		fatalf("Failed to initialise logging: %v", err)
	}
	logCloser = closer
	defer closer.Close()

	switch cmd {
	case "subjects":
		runSubjects(cfg)
	case "slice":
		runSlice(cfg, args)
	case "view":
		runView(cfg, args)
	case "mesh":
		runMesh(cfg, args)
	case "compare":
		runCompare(cfg, args)
	case "trend":
		runTrend(cfg, args)
	case "mask-mesh":
		runMaskMesh(cfg, args)
	case "serve":
		runServe(cfg, args)
	case "view-mesh":
		runViewMesh(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		closer.Close()
		os.Exit(1)
	}
}

// logCloser is the log file, closed by fatalf since os.Exit skips deferred calls
var logCloser io.Closer

// fatalf logs, closes the log file and exits
func fatalf(format string, args ...any) {
	log.Printf(format, args...)
	if logCloser != nil {
		logCloser.Close()
	}
	os.Exit(1)
}

func newDashboard(cfg *config.Config) *dashboard.Dashboard {
	if cfg.Data.Root == "" {
		fatalf("No data root: pass -root or set data.root")
	}
	loc, err := dataset.NewLocator(cfg.Data.Root)
	if err != nil {
		fatalf("%v", err)
	}
	return dashboard.New(loc, volume.NewCache(cfg.Cache.MaxVolumes), options(cfg))
}

func options(cfg *config.Config) dashboard.Options {
	opts := dashboard.DefaultOptions()
	opts.SliceSize = cfg.Display.SliceSize
	opts.MeshWidth = cfg.Display.MeshWidth
	opts.MeshHeight = cfg.Display.MeshHeight
	opts.ColormapBins = cfg.Display.ColormapBins
	return opts
}

// selectionFlags registers the controls shared by the slice commands
type selectionFlags struct {
	subject   *int
	timePoint *string
	bone      *string
	field     *string
	view      *string
	index     *int
	center    *float64
	width     *float64
	noMask    *bool
}

func addSelectionFlags(fs *flag.FlagSet, cfg *config.Config) *selectionFlags {
	return &selectionFlags{
		subject:   fs.Int("subject", 0, "Subject ID"),
		timePoint: fs.String("tp", string(models.Baseline), "Time point: 00m, 12m, 24m, 48m or 72m"),
		bone:      fs.String("bone", string(models.Femur), "Bone: femur or tibia"),
		field:     fs.String("field", string(models.Thickness), "Scalar field: thickness or t2"),
		view:      fs.String("view", "sagittal", "Slice plane: axial, coronal or sagittal"),
		index:     fs.Int("index", -1, "Slice index along the view axis (-1 for the middle)"),
		center:    fs.Float64("center", cfg.Display.WindowCenter, "Window center in [0,1]"),
		width:     fs.Float64("width", cfg.Display.WindowWidth, "Window width in [0,1]"),
		noMask:    fs.Bool("no-mask", false, "Do not overlay the segmentation"),
	}
}

func (f *selectionFlags) selection(cfg *config.Config) models.Selection {
	sel := models.NewSelection(cfg.Data.Root, *f.center, *f.width).WithSubject(*f.subject)

	tp, err := models.ParseTimePoint(*f.timePoint)
	if err != nil {
		fatalf("%v", err)
	}
	bone, err := models.ParseBone(*f.bone)
	if err != nil {
		fatalf("%v", err)
	}
	field, err := models.ParseField(*f.field)
	if err != nil {
		fatalf("%v", err)
	}
	view, err := models.ParseViewAxis(*f.view)
	if err != nil {
		fatalf("%v", err)
	}

	sel = sel.WithTimePoint(tp).WithView(view)
	sel.Bone = bone
	sel.Field = field
	sel.SliceIndex = *f.index
	sel.ShowMask = !*f.noMask
	if err := sel.Validate(); err != nil {
		fatalf("Invalid selection: %v", err)
	}
	return sel
}

func requireSubject(sel models.Selection) {
	if !sel.HasSubject() {
		fatalf("No subject: pass -subject")
	}
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}
}

func writeImage(path string, img image.Image) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fatalf("Failed to create %s: %v", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := visualization.EncodePNG(f, img); err != nil {
		fatalf("Failed to write %s: %v", path, err)
	}
}

// withSuffix turns mesh.png into mesh_femur.png
func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + suffix + ext
}

func runInitConfig(args []string) {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	out := fs.String("out", "oaiviewer.yaml", "Configuration file to write")
	fs.Parse(args)

	if err := config.CreateDefaultConfigFile(*out); err != nil {
		fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Default configuration written to: %s\n", *out)
}

func runSubjects(cfg *config.Config) {
	d := newDashboard(cfg)
	page, err := d.Subjects()
	if err != nil {
		fatalf("Failed to list subjects: %v", err)
	}
	printWarnings(page.Warnings)

	fmt.Printf("%d subjects under %s\n", len(page.IDs), cfg.Data.Root)
	if page.Table == nil {
		for _, id := range page.IDs {
			fmt.Println(id)
		}
		return
	}

	fmt.Printf("%-10s %s\n", "ID", strings.Join(page.Table.Columns, " "))
	for _, row := range page.Table.Rows {
		grades := make([]string, len(row.Grades))
		for i, g := range row.Grades {
			grades[i] = fmt.Sprintf("%*g", len(page.Table.Columns[i]), g)
		}
		fmt.Printf("%-10d %s\n", row.ID, strings.Join(grades, " "))
	}
}

func runSlice(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("slice", flag.ExitOnError)
	sf := addSelectionFlags(fs, cfg)
	out := fs.String("out", "slice.png", "Output PNG file")
	all := fs.Bool("all", false, "Save every slice along the view axis as JPEG")
	outDir := fs.String("out-dir", "slices", "Directory for -all")
	numCores := fs.Int("cores", runtime.NumCPU(), "Number of CPU cores used by -all")
	fs.Parse(args)

	sel := sf.selection(cfg)
	requireSubject(sel)
	d := newDashboard(cfg)
	session := uuid.New()

	if *all {
		saveSequence(d, session, sel, *outDir, *numCores)
		return
	}

	page, err := d.VisitSlice(session, sel)
	if err != nil {
		fatalf("Failed to render slice: %v", err)
	}
	printWarnings(page.Warnings)
	writeImage(*out, page.Image)
	fmt.Printf("%s slice %d/%d of %s saved to: %s\n", page.View, page.SliceIndex, page.SliceCount-1, page.VolumePath, *out)
}

// saveSequence writes every slice of the visit along the view axis
func saveSequence(d *dashboard.Dashboard, session uuid.UUID, sel models.Selection, outDir string, cores int) {
	volPath, err := d.Locator.VolumePath(sel.TimePoint, sel.SubjectID)
	if err != nil {
		fatalf("%v", err)
	}
	vol, err := d.LoadNormalized(session, volPath)
	if err != nil {
		fatalf("Failed to load volume: %v", err)
	}

	var mask *volume.Volume
	if sel.ShowMask {
		if maskPath, err := d.Locator.MaskPath(sel.TimePoint, sel.SubjectID); err == nil {
			if mask, err = d.LoadMask(session, maskPath); err != nil {
				fatalf("Failed to load mask: %v", err)
			}
		} else {
			fmt.Printf("Warning: %v\n", err)
		}
	}

	viewer := visualization.NewViewer(vol, mask)
	axisDir := filepath.Join(outDir, strings.ToLower(sel.View.String()))
	fmt.Printf("Saving %d %s slices to: %s\n", viewer.SliceCount(sel.View), sel.View, axisDir)
	start := time.Now()
	w := intensity.Window{Center: sel.WindowCenter, Width: sel.WindowWidth}
	if err := viewer.SaveSliceSequence(sel.View, axisDir, w, cores); err != nil {
		fatalf("Failed to save slices: %v", err)
	}
	fmt.Printf("Slice extraction completed in %.2f seconds!\n", time.Since(start).Seconds())
}

func runView(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	sf := addSelectionFlags(fs, cfg)
	input := fs.String("input", "", "DICOM directory or NIfTI file")
	maskPath := fs.String("mask", "", "Optional NIfTI segmentation of the input")
	out := fs.String("out", "view.png", "Output PNG file")
	fs.Parse(args)

	if *input == "" {
		fs.Usage()
		fatalf("view needs -input")
	}
	sel := sf.selection(cfg)

	vol, err := volume.Load(*input)
	if err != nil {
		fatalf("Failed to load %s: %v", *input, err)
	}
	intensity.Normalize(vol.Data)

	var mask *volume.Volume
	if *maskPath != "" {
		if mask, err = volume.LoadNIfTI(*maskPath); err != nil {
			fatalf("Failed to load mask: %v", err)
		}
		fmt.Printf("Mask labels: %v\n", mask.Labels())
	}

	d := dashboard.New(nil, nil, options(cfg))
	page, err := d.RenderVolume(vol, mask, sel)
	if err != nil {
		fatalf("Failed to render: %v", err)
	}
	writeImage(*out, page.Image)
	fmt.Printf("%s volume %v, %s slice %d/%d saved to: %s\n", vol.Format, vol.Dims, page.View, page.SliceIndex, page.SliceCount-1, *out)
}

func runMesh(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("mesh", flag.ExitOnError)
	sf := addSelectionFlags(fs, cfg)
	out := fs.String("out", "mesh.png", "Output PNG file; the bone name is appended")
	fs.Parse(args)

	sel := sf.selection(cfg)
	requireSubject(sel)
	page, err := newDashboard(cfg).MeshView(sel)
	if err != nil {
		fatalf("Failed to render meshes: %v", err)
	}
	printWarnings(page.Warnings)

	for _, p := range page.Panels {
		if p.Err != "" {
			fmt.Printf("%s: %s\n", p.Bone.Title(), p.Err)
			continue
		}
		path := withSuffix(*out, string(p.Bone))
		writeImage(path, p.Image)
		fmt.Printf("%s %s [%.3g, %.3g] saved to: %s\n", p.Bone.Title(), page.Field.Label(), p.Lo, p.Hi, path)
	}
}

func runViewMesh(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("view-mesh", flag.ExitOnError)
	meshPath := fs.String("mesh", "", "Surface file (.stl or .obj)")
	scalarPath := fs.String("scalars", "", "Optional scalar file, one value per vertex")
	out := fs.String("out", "mesh.png", "Output PNG file")
	fs.Parse(args)

	if *meshPath == "" {
		fs.Usage()
		fatalf("view-mesh needs -mesh")
	}
	page, err := dashboard.New(nil, nil, options(cfg)).RenderMeshFile(*meshPath, *scalarPath)
	if err != nil {
		fatalf("Failed to render %s: %v", *meshPath, err)
	}
	writeImage(*out, page.Image)
	if page.Field != "" {
		fmt.Printf("%d vertices, %d faces, %s [%.3g, %.3g] saved to: %s\n", page.Vertices, page.Faces, page.Field, page.Lo, page.Hi, *out)
	} else {
		fmt.Printf("%d vertices, %d faces saved to: %s\n", page.Vertices, page.Faces, *out)
	}
}

func runCompare(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	sf := addSelectionFlags(fs, cfg)
	out := fs.String("out", "compare.png", "Output PNG file")
	fs.Parse(args)

	sel := sf.selection(cfg)
	requireSubject(sel)
	d := newDashboard(cfg)

	c, err := d.Longitudinal(sel.SubjectID, sel.Bone, sel.Field)
	if err != nil {
		fatalf("Failed to load %s meshes: %v", sel.Bone, err)
	}
	printWarnings(c.Warnings)
	img, err := d.CompareGrid(c)
	if err != nil {
		fatalf("Failed to render grid: %v", err)
	}
	writeImage(*out, img)
	fmt.Printf("%s %s over time [%.3g, %.3g] saved to: %s\n", sel.Bone.Title(), sel.Field.Label(), c.Lo, c.Hi, *out)
}

func runTrend(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("trend", flag.ExitOnError)
	sf := addSelectionFlags(fs, cfg)
	out := fs.String("out", "trend.png", "Output PNG file")
	fs.Parse(args)

	sel := sf.selection(cfg)
	requireSubject(sel)
	page, err := newDashboard(cfg).Trend(sel.SubjectID, sel.Field)
	if err != nil {
		fatalf("Failed to chart trend: %v", err)
	}
	printWarnings(page.Warnings)
	for _, s := range page.Series {
		fmt.Printf("%s: %v\n", s.Name, s.Values)
	}
	writeImage(*out, page.Image)
	fmt.Printf("Trend saved to: %s\n", *out)
}

func runMaskMesh(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("mask-mesh", flag.ExitOnError)
	sf := addSelectionFlags(fs, cfg)
	label := fs.Int("label", 1, "Segmentation label to extract")
	out := fs.String("out", "mask.stl", "Output STL file")
	fs.Parse(args)

	sel := sf.selection(cfg)
	requireSubject(sel)

	fmt.Printf("Extracting label %d surface...\n", *label)
	start := time.Now()
	triangles, err := newDashboard(cfg).MaskSurface(uuid.New(), sel.TimePoint, sel.SubjectID, *label)
	if err != nil {
		fatalf("Failed to extract surface: %v", err)
	}
	if err := stl.SaveToSTL(*out, triangles); err != nil {
		fatalf("Failed to save STL: %v", err)
	}
	fmt.Printf("%d triangles saved to %s in %.2f seconds\n", len(triangles), *out, time.Since(start).Seconds())
}

func runServe(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Server.Addr, "Listen address")
	fs.Parse(args)
	cfg.Server.Addr = *addr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("================================")
	fmt.Println("OAI KNEE MRI DASHBOARD")
	fmt.Printf("Data root: %s\n", cfg.Data.Root)
	fmt.Printf("Listening on %s\n", cfg.Server.Addr)
	fmt.Println("================================")

	if err := server.New(cfg).Run(ctx); err != nil {
		fatalf("Server failed: %v", err)
	}
}
