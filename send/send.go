package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rfconf/serialcomm"
)

const usage = `用法:
  send save  [记录参数 | -config file.json] [-out DIR]
  send check -port PORT [-ping] [-timeout 2s]
  send send  -port PORT (-file x.bin|x.json|x.txt | 记录参数) [-timeout 2s]
  send ports`

// recordFlags are the form fields of one configuration record.
type recordFlags struct {
	mode, protocol, modulation string
	fc, fs, rfg, ifg, bbg      uint64
	path, config               string
}

func (r *recordFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.mode, "mode", "receive", "设备模式: receive | transmit")
	fs.StringVar(&r.protocol, "protocol", "uart", "流协议: uart | i2c | spi | file")
	fs.StringVar(&r.modulation, "mod", "QPSK", "调制方式: BPSK | QPSK | FSK")
	fs.Uint64Var(&r.fc, "fc", 915000000, "载波频率 (Hz)")
	fs.Uint64Var(&r.fs, "fs", 2000000, "采样频率 (Hz)")
	fs.Uint64Var(&r.rfg, "rfg", 0, "RF 增益 (dB)")
	fs.Uint64Var(&r.ifg, "ifg", 0, "IF 增益 (dB)")
	fs.Uint64Var(&r.bbg, "bbg", 0, "基带增益 (dB)")
	fs.StringVar(&r.path, "source", "", "源文件路径 (仅 file 协议)")
	fs.StringVar(&r.config, "config", "", "从文件读取记录 (.bin, .json 或 .txt)")
}

func (r *recordFlags) record() (serialcomm.ConfigurationRecord, error) {
	if r.config != "" {
		rec, err := loadRecord(r.config)
		if err != nil {
			return rec, err
		}
		if r.path != "" && rec.StreamingProtocol == serialcomm.ProtocolFile {
			rec.SourceFilePath = r.path
		}
		return rec, serialcomm.Validate(rec)
	}
	return serialcomm.NewConfigurationRecord(r.mode, r.protocol, r.modulation, r.fc, r.fs, r.rfg, r.ifg, r.bbg, r.path)
}

// loadRecord reads a record from a .bin frame, a .json record or a
// compact .txt string.
func loadRecord(path string) (serialcomm.ConfigurationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return serialcomm.ConfigurationRecord{}, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		// 二进制帧不携带源文件路径
		rec, err := serialcomm.Decode(data)
		if err != nil {
			return rec, err
		}
		return serialcomm.WithSourcePath(rec, ""), nil
	case ".json":
		var rec serialcomm.ConfigurationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return serialcomm.ConfigurationRecord{}, fmt.Errorf("解析 %s 失败: %w", path, err)
		}
		return rec, serialcomm.Validate(rec)
	default:
		return serialcomm.ParseCompact(string(data))
	}
}

// loadFrame builds the frame to send. A stored .bin is verified and sent
// as is; anything else is encoded from its record.
func loadFrame(file string, rf *recordFlags) (*serialcomm.ConfigFrame, serialcomm.ConfigurationRecord, error) {
	if strings.EqualFold(filepath.Ext(file), ".bin") {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, serialcomm.ConfigurationRecord{}, err
		}
		return serialcomm.DecodeFrame(data)
	}

	var (
		rec serialcomm.ConfigurationRecord
		err error
	)
	if file != "" {
		rec, err = loadRecord(file)
	} else {
		rec, err = rf.record()
	}
	if err != nil {
		return nil, serialcomm.ConfigurationRecord{}, err
	}
	frame, err := serialcomm.Encode(rec)
	return frame, rec, err
}

func newManager(port string, driver string, ping bool) *serialcomm.Manager {
	return serialcomm.NewManager(&serialcomm.SerialConfig{
		PortName:  port,
		BaudRate:  115200,
		Driver:    serialcomm.Driver(driver),
		ProbePing: ping,
	})
}

func saveConfig(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	var rf recordFlags
	rf.register(fs)
	out := fs.String("out", "config_files", "输出目录")
	_ = fs.Parse(args)

	rec, err := rf.record()
	if err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}
	frame, err := serialcomm.Encode(rec)
	if err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("创建目录失败: %v", err)
	}
	base := filepath.Join(*out, "rf_config_"+time.Now().Format("20060102_150405"))
	if err := os.WriteFile(base+".bin", frame.Bytes(), 0o644); err != nil {
		log.Fatalf("写入二进制文件失败: %v", err)
	}
	if err := os.WriteFile(base+".txt", []byte(serialcomm.EncodeMirror(rec)), 0o644); err != nil {
		log.Fatalf("写入文本文件失败: %v", err)
	}

	log.Printf("已保存: %s.bin (%d 字节, CRC 0x%04X)", base, frame.Len(), frame.Checksum())
	log.Printf("已保存: %s.txt", base)
	fmt.Print(hex.Dump(frame.Bytes()))
	fmt.Println(serialcomm.CompactString(rec))
}

func checkConnection(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	port := fs.String("port", "", "串口名称，例如 /dev/ttyUSB0 或 COM6")
	driver := fs.String("driver", string(serialcomm.DriverTarm), "串口驱动: tarm | bugst")
	ping := fs.Bool("ping", false, "发送 ping 字节并等待设备回应")
	timeout := fs.Duration("timeout", 2*time.Second, "超时时间")
	_ = fs.Parse(args)

	if *port == "" {
		log.Fatal("必须指定 -port")
	}

	status := newManager(*port, *driver, *ping).Probe(*port, *timeout)
	if !status.Reachable {
		log.Fatalf("无法连接 %s: %s", *port, status.Reason)
	}
	log.Printf("成功连接 %s", *port)
}

func sendConfig(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	var rf recordFlags
	rf.register(fs)
	port := fs.String("port", "", "串口名称")
	driver := fs.String("driver", string(serialcomm.DriverTarm), "串口驱动: tarm | bugst")
	file := fs.String("file", "", "配置文件 (.bin, .json 或 .txt)")
	timeout := fs.Duration("timeout", 2*time.Second, "等待确认的超时时间")
	_ = fs.Parse(args)

	if *port == "" {
		log.Fatal("必须指定 -port")
	}

	frame, rec, err := loadFrame(*file, &rf)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	log.Printf("发送配置 (%d 字节, CRC 0x%04X):\n%s", frame.Len(), frame.Checksum(), serialcomm.EncodeMirror(rec))

	outcome := newManager(*port, *driver, false).Send(*port, frame, *timeout)
	if !outcome.OK() {
		log.Fatalf("发送失败: %v", outcome)
	}
	log.Println("数据发送成功，收到确认")
}

func listPorts() {
	ports, err := serialcomm.ListPorts()
	if err != nil {
		log.Fatalf("枚举串口失败: %v", err)
	}
	if len(ports) == 0 {
		log.Println("未发现串口")
		return
	}
	for _, p := range ports {
		fmt.Println(p)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "save":
		saveConfig(os.Args[2:])
	case "check":
		checkConnection(os.Args[2:])
	case "send":
		sendConfig(os.Args[2:])
	case "ports":
		listPorts()
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}
