package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"rfconf/serialcomm"
)

func main() {
	port := flag.String("port", "", "串口名称，例如 /dev/ttyS1")
	baud := flag.Int("baud", 115200, "波特率")
	driver := flag.String("driver", string(serialcomm.DriverTarm), "串口驱动: tarm | bugst")
	once := flag.Bool("once", false, "收到一个配置后退出")
	flag.Parse()

	if *port == "" {
		log.Fatal("必须指定 -port")
	}

	got := make(chan serialcomm.ConfigurationRecord, 1)
	receiver, err := serialcomm.NewSerialReceiver(&serialcomm.SerialConfig{
		PortName:    *port,
		BaudRate:    *baud,
		Driver:      serialcomm.Driver(*driver),
		ReadTimeout: 200 * time.Millisecond,
		ReadCallback: func(rec serialcomm.ConfigurationRecord) error {
			log.Printf("收到配置:\n%s", serialcomm.EncodeMirror(rec))
			select {
			case got <- rec:
			default:
			}
			return nil
		},
	})
	if err != nil {
		log.Fatalf("初始化串口失败: %v", err)
	}
	defer receiver.Close()

	if err := receiver.Start(); err != nil {
		log.Fatalf("启动串口监听失败: %v", err)
	}
	log.Printf("正在监听 %s ... Ctrl+C 可退出", *port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	for {
		select {
		case <-got:
			if *once {
				return
			}
		case <-sig:
			return
		}
	}
}
